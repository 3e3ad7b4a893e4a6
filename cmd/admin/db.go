package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// dbCmd queries the server's sqlite store directly. It is safe to run against a
// live server (WAL mode, read-only queries).
func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional; defaults to <data>/towns.db)")
	limit := fs.Int("limit", 20, "result limit")
	town := fs.String("town", "", "town name filter (audits)")
	actor := fs.String("actor", "", "actor filter (audits)")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	if *limit <= 0 {
		*limit = 20
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "towns.db")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	switch q {
	case "snapshots":
		rows, err := db.Query(`SELECT taken_ms,path,digest,towns,claims,contests FROM snapshots ORDER BY taken_ms DESC LIMIT ?`, *limit)
		if err != nil {
			fail("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				TakenMs  int64  `json:"taken_ms"`
				Path     string `json:"path"`
				Digest   string `json:"digest"`
				Towns    int    `json:"towns"`
				Claims   int    `json:"claims"`
				Contests int    `json:"contests"`
			}
			if err := rows.Scan(&r.TakenMs, &r.Path, &r.Digest, &r.Towns, &r.Claims, &r.Contests); err != nil {
				fail("scan", err)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fail("rows", err)
		}

	case "towns":
		rows, err := db.Query(`SELECT t.owner,t.name,t.world,t.color,t.reputation,t.contested_claims_spent,
				(SELECT COUNT(*) FROM claims c WHERE c.owner=t.owner)
			FROM towns t ORDER BY t.name LIMIT ?`, *limit)
		if err != nil {
			fail("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Owner      string `json:"owner"`
				Name       string `json:"name"`
				World      string `json:"world"`
				Color      string `json:"color"`
				Reputation int    `json:"reputation"`
				Spent      int    `json:"contested_claims_spent"`
				Claims     int    `json:"claims"`
			}
			if err := rows.Scan(&r.Owner, &r.Name, &r.World, &r.Color, &r.Reputation, &r.Spent, &r.Claims); err != nil {
				fail("scan", err)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fail("rows", err)
		}

	case "audits":
		where, params := []string{"1=1"}, []any{}
		if *town != "" {
			where = append(where, "town=?")
			params = append(params, *town)
		}
		if *actor != "" {
			where = append(where, "actor=?")
			params = append(params, *actor)
		}
		params = append(params, *limit)
		rows, err := db.Query(`SELECT raw_json FROM audits WHERE `+strings.Join(where, " AND ")+` ORDER BY time_ms DESC, seq DESC LIMIT ?`, params...)
		if err != nil {
			fail("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var raw string
			if err := rows.Scan(&raw); err != nil {
				fail("scan", err)
			}
			fmt.Println(raw)
		}
		if err := rows.Err(); err != nil {
			fail("rows", err)
		}

	default:
		fmt.Fprintln(os.Stderr, "unknown query (want snapshots, towns or audits):", q)
		os.Exit(2)
	}
}

func fail(what string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", what, err)
	os.Exit(1)
}

func printJSON(v any) {
	b, _ := json.Marshal(v)
	fmt.Println(string(b))
}
