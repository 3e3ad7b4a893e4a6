package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"townclaims.dev/internal/protocol"
	modelpkg "townclaims.dev/internal/sim/territory/kernel/model"
)

func adminURL(base, path string) string {
	return strings.TrimRight(strings.TrimSpace(base), "/") + "/admin/v1" + path
}

func doRequest(req *http.Request, timeout time.Duration) {
	cl := &http.Client{Timeout: timeout}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(string(b))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}

// getCmd covers the read-only endpoints: state, towns, town, contests, top.
func getCmd(name string, args []string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	board := fs.String("board", "claims", "leaderboard: claims or kills (top)")
	limit := fs.Int("limit", 10, "leaderboard size (top)")
	_ = fs.Parse(args)

	var path string
	switch name {
	case "state":
		path = "/state"
	case "towns":
		path = "/towns"
	case "town":
		if fs.NArg() == 0 {
			fmt.Fprintln(os.Stderr, "usage: admin town <name-or-owner>")
			os.Exit(2)
		}
		path = "/towns/" + url.PathEscape(fs.Arg(0))
	case "contests":
		path = "/contests"
	case "top":
		path = fmt.Sprintf("/top?board=%s&limit=%d", url.QueryEscape(*board), *limit)
	}
	req, _ := http.NewRequest(http.MethodGet, adminURL(*baseURL, path), nil)
	doRequest(req, 5*time.Second)
}

func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	req, _ := http.NewRequest(http.MethodPost, adminURL(*baseURL, "/snapshot"), nil)
	doRequest(req, 10*time.Second)
}

// cmdCmd sends one engine op with admin rights, e.g.
//
//	admin cmd -op force_unclaim -cell world:10:-4
//	admin cmd -op adjust_bonus -target Riverside -amount 16
func cmdCmd(args []string) {
	fs := flag.NewFlagSet("cmd", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	op := fs.String("op", "", "engine op (required)")
	actor := fs.String("actor", "", "acting player uuid (default: operator)")
	target := fs.String("target", "", "target town or player")
	cell := fs.String("cell", "", "cell as world:x:z")
	name := fs.String("name", "", "name argument")
	world := fs.String("world", "", "world argument")
	amount := fs.Int("amount", 0, "amount argument")
	_ = fs.Parse(args)

	if strings.TrimSpace(*op) == "" {
		fmt.Fprintln(os.Stderr, "missing -op")
		os.Exit(2)
	}
	cmd := protocol.CmdMsg{Op: *op, Actor: *actor, Target: *target, Name: *name, World: *world, Amount: *amount}
	if *cell != "" {
		p, err := modelpkg.ParseChunkID(*cell)
		if err != nil {
			fmt.Fprintln(os.Stderr, "cell:", err)
			os.Exit(2)
		}
		cmd.Cell = &protocol.Cell{World: p.World, X: p.X, Z: p.Z}
	}
	body, _ := json.Marshal(cmd)
	req, _ := http.NewRequest(http.MethodPost, adminURL(*baseURL, "/cmd"), bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	doRequest(req, 10*time.Second)
}
