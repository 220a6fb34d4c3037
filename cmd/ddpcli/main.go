package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/docopt/docopt-go"
	gojwt "github.com/golang-jwt/jwt/v5"
	"golang.org/x/term"

	"github.com/meteorkit/ddp/ddp"
)

const DdpCliVersion = "0.0.1"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `DDP client control.

Usage:
 ddpcli connect <url>
 ddpcli call <url> <method> [<params>...]
 ddpcli sub <url> <name> [<params>...]
 ddpcli login <url> --username=<username> [--token]
 ddpcli token-info <token>

Options:
 -h --help Show this screen.
 --version Show version.
 --username=<username>
 --token Prompt for a resume token instead of a password.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], DdpCliVersion)
	if err != nil {
		panic(err)
	}

	if connect_, _ := opts.Bool("connect"); connect_ {
		cmdConnect(opts)
	} else if call_, _ := opts.Bool("call"); call_ {
		cmdCall(opts)
	} else if sub_, _ := opts.Bool("sub"); sub_ {
		cmdSub(opts)
	} else if login_, _ := opts.Bool("login"); login_ {
		cmdLogin(opts)
	} else if tokenInfo_, _ := opts.Bool("token-info"); tokenInfo_ {
		cmdTokenInfo(opts)
	}
}

func newClient(url string) *ddp.Client {
	client, err := ddp.NewClient(url, nil, ddp.Events{
		OnStatusChange: func(status ddp.ConnectionStatus) {
			Out.Printf("status: %v", status)
		},
		OnConnected: func(sessionReused bool) {
			Out.Printf("connected (sessionReused=%v)", sessionReused)
		},
		OnLoginFailure: func(lf *ddp.LoginFailure) {
			Err.Printf("login failed: %s", lf.Message)
		},
	})
	if err != nil {
		Err.Fatalf("%s", err)
	}
	return client
}

func cmdConnect(opts docopt.Opts) {
	url, _ := opts.String("<url>")
	client := newClient(url)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client.Connect(ctx)
	Out.Printf("connecting to %s... press Ctrl-C to exit", url)
	select {}
}

func cmdCall(opts docopt.Opts) {
	url, _ := opts.String("<url>")
	method, _ := opts.String("<method>")

	client := newClient(url)
	ctx := context.Background()
	client.Connect(ctx)

	var params []any
	if rawParams, ok := opts["<params>"].([]string); ok {
		for _, p := range rawParams {
			params = append(params, p)
		}
	}

	done := make(chan struct{})
	client.Call(method, params, func(methodErr *ddp.MethodError, result any) {
		if methodErr != nil {
			Err.Printf("method error: %s", methodErr.ErrorString())
		} else {
			Out.Printf("result: %v", result)
		}
		close(done)
	})

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		Err.Printf("timed out waiting for result")
	}
}

func cmdSub(opts docopt.Opts) {
	url, _ := opts.String("<url>")
	name, _ := opts.String("<name>")

	client := newClient(url)
	ctx := context.Background()
	client.Connect(ctx)

	var params []any
	if rawParams, ok := opts["<params>"].([]string); ok {
		for _, p := range rawParams {
			params = append(params, p)
		}
	}

	handle := client.Subscribe(name, params, ddp.SubscriptionCallbacks{
		OnReady: func() { Out.Printf("sub %s ready", name) },
		OnError: func(subErr *ddp.SubscriptionError) { Err.Printf("sub %s error: %s", name, subErr.Error) },
	})
	Out.Printf("subscribed: %s", handle.SubscriptionId())
	select {}
}

func cmdLogin(opts docopt.Opts) {
	url, _ := opts.String("<url>")
	username, _ := opts.String("--username")
	useToken, _ := opts.Bool("--token")

	client := newClient(url)
	ctx := context.Background()
	client.Connect(ctx)

	if useToken {
		fmt.Fprint(os.Stderr, "Resume token: ")
		tokenBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			Err.Printf("read token: %s", err)
			return
		}
		client.LoginWithToken(ctx, string(tokenBytes))
		return
	}

	fmt.Fprint(os.Stderr, "Password: ")
	passwordBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		Err.Printf("read password: %s", err)
		return
	}

	client.LoginWithPassword(username, string(passwordBytes), func(lf *ddp.LoginFailure) {
		if lf != nil {
			Err.Printf("login failed: %s", lf.Message)
			return
		}
		Out.Printf("logged in as %s", client.UserId())
	})
}

// token-info decodes a resume token's claims without verifying its
// signature, for inspecting what a server issued (see ddp.ParseLoginTokenUnverified).
func cmdTokenInfo(opts docopt.Opts) {
	token, _ := opts.String("<token>")

	parser := gojwt.NewParser()
	parsed, _, err := parser.ParseUnverified(token, gojwt.MapClaims{})
	if err != nil {
		Err.Printf("not a JWT: %s", err)
		return
	}
	claims, _ := parsed.Claims.(gojwt.MapClaims)
	Out.Printf("claims: %v", claims)
}
