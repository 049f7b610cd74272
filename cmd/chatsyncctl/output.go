package main

import (
	"fmt"
	"os"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

type output struct {
	json bool
}

// printJSON prints resp as indented JSON.
func printJSON(resp *structpb.Struct) {
	data, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(resp)
	if err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

// done prints a one-line confirmation for calls with nothing else to show.
func (o output) done(resp *structpb.Struct, msg string) {
	if o.json {
		printJSON(resp)
		return
	}
	fmt.Println(msg)
}

func str(f map[string]*structpb.Value, key string) string {
	return f[key].GetStringValue()
}

func num(f map[string]*structpb.Value, key string) int64 {
	return int64(f[key].GetNumberValue())
}

func (o output) status(resp *structpb.Struct) {
	if o.json {
		printJSON(resp)
		return
	}
	f := resp.GetFields()
	fmt.Printf("Session: %s\n", str(f, "session"))
	fmt.Printf("Status:  %s\n", str(f, "status"))
	if reason := str(f, "reason"); reason != "" {
		fmt.Printf("Reason:  %s\n", reason)
	}
	if id := num(f, "user_id"); id != 0 {
		fmt.Printf("User:    %d\n", id)
	}
	fmt.Printf("Uptime:  %s\n", (time.Duration(num(f, "uptime_ms")) * time.Millisecond).Round(time.Second))
	if _, ok := f["conversation_count"]; ok {
		fmt.Printf("Conversations: %d\n", num(f, "conversation_count"))
	}
	if sends := f["sends"].GetStructValue().GetFields(); len(sends) > 0 {
		fmt.Printf("Outbox:  %d sent, %d unsent, %d unconfirmed\n", num(sends, "sent"), num(sends, "unsent"), num(sends, "unconfirmed"))
	}
	if w := str(f, "warning"); w != "" {
		fmt.Printf("Warning: %s\n", w)
	}
}

func (o output) conversations(resp *structpb.Struct) {
	if o.json {
		printJSON(resp)
		return
	}
	list := resp.GetFields()["conversations"].GetListValue().GetValues()
	if len(list) == 0 {
		fmt.Println("No conversations.")
		return
	}
	for _, v := range list {
		f := v.GetStructValue().GetFields()
		preview := ""
		if last := f["last"].GetStructValue().GetFields(); last != nil {
			preview = truncate(str(last, "content"), 40)
		}
		marker := " "
		if f["typing"].GetBoolValue() {
			marker = "…"
		} else if f["online"].GetBoolValue() {
			marker = "•"
		}
		fmt.Printf("%s %-8d %-24s %3d  %s\n", marker, num(f, "counterpart_id"), str(f, "name"), num(f, "unread"), preview)
	}
}

func (o output) conversation(resp *structpb.Struct) {
	if o.json {
		printJSON(resp)
		return
	}
	f := resp.GetFields()["conversation"].GetStructValue().GetFields()
	fmt.Printf("%s (%d)\n", str(f, "name"), num(f, "counterpart_id"))
	for _, v := range f["messages"].GetListValue().GetValues() {
		fmt.Println(formatMessage(v.GetStructValue().GetFields(), num(f, "counterpart_id")))
	}
	if w := str(resp.GetFields(), "warning"); w != "" {
		fmt.Printf("Warning: %s\n", w)
	}
}

func (o output) sent(resp *structpb.Struct) {
	if o.json {
		printJSON(resp)
		return
	}
	f := resp.GetFields()
	m := f["message"].GetStructValue().GetFields()
	if f["transmitted"].GetBoolValue() {
		fmt.Printf("sent %s\n", str(m, "id"))
		return
	}
	fmt.Printf("offline: %s kept locally, not delivered\n", str(m, "id"))
}

func (o output) connection(resp *structpb.Struct) {
	if o.json {
		printJSON(resp)
		return
	}
	f := resp.GetFields()["connection"].GetStructValue().GetFields()
	fmt.Printf("%d: %s", num(f, "other_id"), str(f, "status"))
	if id := num(f, "connection_id"); id != 0 {
		fmt.Printf(" (connection %d)", id)
	}
	fmt.Println()
}

func (o output) suggestions(resp *structpb.Struct) {
	if o.json {
		printJSON(resp)
		return
	}
	list := resp.GetFields()["suggestions"].GetListValue().GetValues()
	if len(list) == 0 {
		fmt.Println("No suggestions.")
		return
	}
	for _, v := range list {
		f := v.GetStructValue().GetFields()
		fmt.Printf("%-8d %s\n", num(f, "user_id"), str(f, "name"))
	}
}

func formatMessage(m map[string]*structpb.Value, counterpart int64) string {
	at := time.UnixMilli(num(m, "at_unix_ms")).Local().Format("01-02 15:04")
	who := "me"
	if num(m, "sender_id") == counterpart {
		who = str(m, "sender_name")
		if who == "" {
			who = fmt.Sprint(counterpart)
		}
	}
	if m["system"].GetBoolValue() {
		who = "--"
	}
	state := ""
	if m["provisional"].GetBoolValue() {
		state = " (pending)"
	}
	return fmt.Sprintf("[%s] %s: %s%s", at, who, str(m, "content"), state)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
