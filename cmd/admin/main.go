package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zstd"

	"townclaims.dev/internal/persistence/snapshot"
	"townclaims.dev/internal/sim/territory"
)

const usage = `usage: admin <command> [flags]

live server (admin HTTP API):
  state | towns | town <query> | contests | top   read-only views
  snapshot                                          write a snapshot now
  cmd -op <op> [...]                                run an engine op with admin rights

offline:
  db [snapshots|towns|audits]                       query the sqlite store
  audit [-town T] [-action A] [-since 24h]          scan the JSONL audit log
  inspect <file.snap>                               print a snapshot summary`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	args := os.Args[2:]
	switch name := os.Args[1]; name {
	case "state", "towns", "town", "contests", "top":
		getCmd(name, args)
	case "snapshot":
		snapshotCmd(args)
	case "cmd":
		cmdCmd(args)
	case "db":
		dbCmd(args)
	case "audit":
		auditCmd(args)
	case "inspect":
		inspectCmd(args)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
}

func auditCmd(args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	town := fs.String("town", "", "town name filter (case-insensitive)")
	action := fs.String("action", "", "action filter, e.g. CONTEST_RESOLVE")
	since := fs.Duration("since", 0, "only entries newer than this (0 = all)")
	_ = fs.Parse(args)

	f := auditFilter{Town: *town, Action: *action}
	if *since > 0 {
		f.SinceMs = time.Now().Add(-*since).UnixMilli()
	}
	entries, err := readAudit(*dataDir, f)
	if err != nil {
		fail("audit", err)
	}
	for _, e := range entries {
		printJSON(e)
	}
}

type auditFilter struct {
	Town    string
	Action  string
	SinceMs int64
}

func (f auditFilter) match(e territory.AuditEntry) bool {
	if f.Town != "" && !strings.EqualFold(f.Town, e.Town) {
		return false
	}
	if f.Action != "" && !strings.EqualFold(f.Action, e.Action) {
		return false
	}
	return e.TimeMs >= f.SinceMs
}

// readAudit scans every hourly audit file under <data>/audit in order.
func readAudit(dataDir string, f auditFilter) ([]territory.AuditEntry, error) {
	dir := filepath.Join(dataDir, "audit")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "audit-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var out []territory.AuditEntry
	for _, name := range names {
		path := filepath.Join(dir, name)
		if err := scanAuditFile(path, func(e territory.AuditEntry) {
			if f.match(e) {
				out = append(out, e)
			}
		}); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	return out, nil
}

func scanAuditFile(path string, fn func(territory.AuditEntry)) error {
	fh, err := os.Open(path)
	if err != nil {
		return err
	}
	defer fh.Close()
	dec, err := zstd.NewReader(fh)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		var e territory.AuditEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return fmt.Errorf("unmarshal: %w", err)
		}
		fn(e)
	}
	return sc.Err()
}

func inspectCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	_ = fs.Parse(args)
	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: admin inspect <file.snap>")
		os.Exit(2)
	}
	snap, err := snapshot.ReadSnapshot(fs.Arg(0))
	if err != nil {
		fail("read snapshot", err)
	}
	printJSON(summarize(snap))
}

type snapshotSummary struct {
	Codec    string `json:"codec"`
	Taken    string `json:"taken"`
	Digest   string `json:"digest"`
	Towns    int    `json:"towns"`
	Claims   int    `json:"claims"`
	Contests int    `json:"contests"`
	Immune   int    `json:"immune_cells"`
	Largest  string `json:"largest_town,omitempty"`
}

func summarize(snap snapshot.SnapshotV1) snapshotSummary {
	towns, claims, contests := snap.Counts()
	s := snapshotSummary{
		Codec:    snap.Header.Codec,
		Taken:    time.UnixMilli(snap.Header.TakenMs).UTC().Format(time.RFC3339),
		Digest:   snap.Header.Digest,
		Towns:    towns,
		Claims:   claims,
		Contests: contests,
		Immune:   len(snap.Immunity),
	}
	best := -1
	for _, t := range snap.Towns {
		if len(t.Claims) > best {
			best = len(t.Claims)
			s.Largest = fmt.Sprintf("%s (%s claims)", t.Name, humanize.Comma(int64(best)))
		}
	}
	return s
}
