package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/session"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	timeoutFlag := flag.Duration("timeout", 30*time.Second, "request timeout")
	flag.Parse()

	sessionName, err := session.Resolve(*sessionFlag)
	if err != nil {
		fatalf("%v", err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	socketPath := session.SocketPath(sessionName)
	switch args[0] {
	case "start":
		cmdStart(sessionName, socketPath)
		return
	case "sessions":
		cmdSessions()
		return
	}
	if !probeDaemon(socketPath) {
		reportDown(sessionName)
		os.Exit(1)
	}

	c, err := api.Dial(socketPath)
	if err != nil {
		fatalf("cannot connect to daemon for session %q: %v", sessionName, err)
	}
	defer func() { _ = c.Close() }()

	if args[0] == "watch" {
		prefix := ""
		if len(args) > 1 {
			prefix = args[1]
		}
		cmdWatch(c, prefix, *jsonFlag)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeoutFlag)
	defer cancel()

	out := output{json: *jsonFlag}
	switch args[0] {
	case "status":
		out.status(call(ctx, c, api.MethodGetStatus, nil))
	case "login":
		if len(args) < 2 {
			fatalf("usage: chatsyncctl login <email>")
		}
		out.status(call(ctx, c, api.MethodLogin, map[string]any{"email": args[1], "password": readPassword()}))
	case "logout":
		out.status(call(ctx, c, api.MethodLogout, nil))
	case "refresh":
		out.status(call(ctx, c, api.MethodRefresh, nil))
	case "reconnect":
		out.status(call(ctx, c, api.MethodReconnect, nil))
	case "conversations":
		out.conversations(call(ctx, c, api.MethodListConversations, nil))
	case "show":
		out.conversation(call(ctx, c, api.MethodGetConversation, idArg(args, "counterpart_id", "show <user-id>")))
	case "select":
		out.conversation(call(ctx, c, api.MethodSelect, idArg(args, "counterpart_id", "select <user-id>")))
	case "deselect":
		out.done(call(ctx, c, api.MethodDeselect, nil), "no conversation open")
	case "send":
		if len(args) < 3 {
			fatalf("usage: chatsyncctl send <user-id> <text>")
		}
		req := idArg(args, "counterpart_id", "send <user-id> <text>")
		req["content"] = strings.Join(args[2:], " ")
		out.sent(call(ctx, c, api.MethodSend, req))
	case "read":
		out.done(call(ctx, c, api.MethodMarkRead, idArg(args, "counterpart_id", "read <user-id>")), "marked read")
	case "typing":
		req := idArg(args, "counterpart_id", "typing <user-id> [on|off]")
		req["typing"] = len(args) < 3 || args[2] != "off"
		resp := call(ctx, c, api.MethodTyping, req)
		msg := "typing signal sent"
		if !resp.GetFields()["transmitted"].GetBoolValue() {
			msg = "offline: typing signal dropped"
		}
		out.done(resp, msg)
	case "connection":
		cmdConnection(ctx, c, args[1:], out)
	case "suggestions":
		out.suggestions(call(ctx, c, api.MethodSuggestions, nil))
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chatsyncctl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  start                          Start the daemon if it is not running")
	fmt.Fprintln(os.Stderr, "  sessions                       List known sessions")
	fmt.Fprintln(os.Stderr, "  status                         Show session status")
	fmt.Fprintln(os.Stderr, "  login <email>                  Log in (password read from stdin)")
	fmt.Fprintln(os.Stderr, "  logout                         Log out and forget the token")
	fmt.Fprintln(os.Stderr, "  refresh                        Re-merge the conversation snapshot")
	fmt.Fprintln(os.Stderr, "  reconnect                      Reopen the push link")
	fmt.Fprintln(os.Stderr, "  conversations                  List conversations")
	fmt.Fprintln(os.Stderr, "  show <user-id>                 Show a conversation")
	fmt.Fprintln(os.Stderr, "  select <user-id>               Open a conversation and mark it read")
	fmt.Fprintln(os.Stderr, "  deselect                       Close the open conversation")
	fmt.Fprintln(os.Stderr, "  send <user-id> <text>          Send a message")
	fmt.Fprintln(os.Stderr, "  read <user-id>                 Mark a conversation read")
	fmt.Fprintln(os.Stderr, "  typing <user-id> [on|off]      Send a typing signal")
	fmt.Fprintln(os.Stderr, "  connection <op> <user-id>      op: status, request, accept, reject, remove")
	fmt.Fprintln(os.Stderr, "  suggestions                    List suggested connections")
	fmt.Fprintln(os.Stderr, "  watch [prefix]                 Stream daemon events")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func call(ctx context.Context, c *api.Client, method string, req map[string]any) *structpb.Struct {
	resp, err := c.Call(ctx, method, req)
	if err != nil {
		fatalf("%v", err)
	}
	return resp
}

func idArg(args []string, key, usage string) map[string]any {
	if len(args) < 2 {
		fatalf("usage: chatsyncctl %s", usage)
	}
	id, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || id <= 0 {
		fatalf("invalid user id %q", args[1])
	}
	return map[string]any{key: id}
}

func readPassword() string {
	if pw := os.Getenv("CHATSYNC_PASSWORD"); pw != "" {
		return pw
	}
	fmt.Fprint(os.Stderr, "password: ")
	var pw string
	if _, err := fmt.Fscanln(os.Stdin, &pw); err != nil {
		fatalf("read password: %v", err)
	}
	return pw
}

func cmdStart(sessionName, socketPath string) {
	if probeDaemon(socketPath) {
		fmt.Printf("daemon already running for session %q\n", sessionName)
		return
	}
	if err := startDaemon(sessionName); err != nil {
		fatalf("failed to start daemon: %v", err)
	}
	if !waitForDaemon(socketPath, 10*time.Second) {
		fatalf("daemon did not become ready")
	}
	fmt.Printf("daemon started for session %q\n", sessionName)
}

func cmdSessions() {
	names, err := session.List()
	if err != nil {
		fatalf("%v", err)
	}
	if len(names) == 0 {
		fmt.Println("No sessions found.")
		return
	}
	for _, name := range names {
		state := "stopped"
		if probeDaemon(session.SocketPath(name)) {
			state = "running"
		}
		fmt.Printf("%-20s %s (%s)\n", name, session.Dir(name), state)
	}
}

// reportDown explains why the daemon is unreachable, using the lock file
// to tell a hung daemon from a stopped one.
func reportDown(sessionName string) {
	owner, err := lock.ReadOwner(session.Dir(sessionName))
	if err != nil || owner.PID == 0 {
		fmt.Fprintf(os.Stderr, "error: daemon not running for session %q (try: chatsyncctl start)\n", sessionName)
		return
	}
	fmt.Fprintf(os.Stderr, "error: daemon for session %q (pid %d, since %s) is not answering\n",
		sessionName, owner.PID, owner.Acquired.Local().Format(time.DateTime))
}

func cmdConnection(ctx context.Context, c *api.Client, args []string, out output) {
	usage := "connection <status|request|accept|reject|remove> <user-id>"
	if len(args) < 2 {
		fatalf("usage: chatsyncctl %s", usage)
	}
	methods := map[string]string{
		"status":  api.MethodCheckConnection,
		"request": api.MethodRequestConnection,
		"accept":  api.MethodAcceptConnection,
		"reject":  api.MethodRejectConnection,
		"remove":  api.MethodRemoveConnection,
	}
	method, ok := methods[args[0]]
	if !ok {
		fatalf("usage: chatsyncctl %s", usage)
	}
	out.connection(call(ctx, c, method, idArg(args, "other_id", usage)))
}

func cmdWatch(c *api.Client, prefix string, jsonOut bool) {
	stream, err := c.Watch(context.Background(), prefix)
	if err != nil {
		fatalf("%v", err)
	}
	for {
		evt, err := stream.Recv()
		if err != nil {
			fatalf("%v", err)
		}
		if jsonOut {
			fmt.Println(protojson.Format(evt))
			continue
		}
		f := evt.GetFields()
		at := time.UnixMilli(int64(f["occurred_at_unix_ms"].GetNumberValue()))
		payload, _ := protojson.Marshal(f["payload"].GetStructValue())
		fmt.Printf("%s %-24s %s\n", at.Format(time.TimeOnly), f["kind"].GetStringValue(), payload)
	}
}
