package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	isLoggedIn() bool
	Register(ctx context.Context) error
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	List(ctx context.Context, args []string) error
	Show(ctx context.Context, args []string) error
	New(ctx context.Context, args []string) error
	Post(ctx context.Context, args []string) error
	Rename(ctx context.Context, args []string) error
	Share(ctx context.Context, args []string) error
	Delete(ctx context.Context, args []string) error
	Seen(ctx context.Context, args []string, opened bool) error
	Radar(ctx context.Context) error
	Failed(ctx context.Context) error
	Retry(ctx context.Context, args []string) error
	Sync(ctx context.Context) error
}

const (
	helpLoggedOut = "Available commands: register, login, exit"
	helpLoggedIn  = "Available commands: (l)s [parent], show <id>, new <type> <parent|-> <name>, " +
		"post <parent> [text], rename <id> <name>, share <id>, rm <id>, seen <id>, open <id>, " +
		"radar, failed, retry <tx>, sync, logout, exit"
)

// runREPL reads commands line by line and dispatches them to a. The first
// token is the command, the rest are its arguments. Entry commands are only
// accepted while logged in. The loop exits on EOF, "exit" or "quit".
//
// Errors returned by command handlers are ignored here; handlers report
// their own errors.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("es %s> ", statusFn()))
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		switch cmd {
		case "help":
			if a.isLoggedIn() {
				printlnFn(helpLoggedIn)
			} else {
				printlnFn(helpLoggedOut)
			}
			continue
		case "register":
			_ = a.Register(ctx)
			continue
		case "login":
			_ = a.Login(ctx)
			continue
		case "exit", "quit":
			printlnFn("Bye!")
			return
		}

		if !a.isLoggedIn() {
			printlnFn("Unknown command:", cmd)
			continue
		}

		switch cmd {
		case "l", "ls", "list":
			_ = a.List(ctx, args)
		case "show":
			_ = a.Show(ctx, args)
		case "new":
			_ = a.New(ctx, args)
		case "post":
			_ = a.Post(ctx, args)
		case "rename":
			_ = a.Rename(ctx, args)
		case "share":
			_ = a.Share(ctx, args)
		case "rm", "delete":
			_ = a.Delete(ctx, args)
		case "seen":
			_ = a.Seen(ctx, args, false)
		case "open":
			_ = a.Seen(ctx, args, true)
		case "radar":
			_ = a.Radar(ctx)
		case "failed":
			_ = a.Failed(ctx)
		case "retry":
			_ = a.Retry(ctx, args)
		case "sync":
			_ = a.Sync(ctx)
		case "logout":
			_ = a.Logout(ctx)
		default:
			printlnFn("Unknown command:", cmd)
		}
	}
}
