package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"donor_check/internal/catalog"
	"donor_check/internal/fetcher"
	"donor_check/internal/model"
	"donor_check/internal/storage"
	"donor_check/migrations"
)

const usage = `Usage: migrate [-db path] <command>

Commands:
  up          Migrate to the latest version
  up-one      Migrate one version up
  down        Roll back one version
  status      Show migration status
  version     Show current version
  reset       Roll back all migrations
  import DIR  Validate and import catalog JSON files from DIR
  stats       Show rule counts of the stored catalog
`

func main() {
	dbPath := flag.String("db", envOrDefault("DATABASE_PATH", "./data/catalog.db"), "path to sqlite database")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	ctx := context.Background()
	cmd := args[0]

	var err error
	switch cmd {
	case "import":
		if len(args) < 2 {
			log.Fatal("import: catalog directory is required")
		}
		err = importCatalog(ctx, *dbPath, args[1])
	case "stats":
		err = printStats(ctx, *dbPath)
	default:
		err = runGoose(ctx, *dbPath, cmd)
	}
	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

func runGoose(ctx context.Context, dbPath, cmd string) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	p, err := migrations.NewProvider(db)
	if err != nil {
		return err
	}

	switch cmd {
	case "up":
		results, err := p.Up(ctx)
		printResults(results...)
		return err
	case "up-one":
		r, err := p.UpByOne(ctx)
		printResults(r)
		return err
	case "down":
		r, err := p.Down(ctx)
		printResults(r)
		return err
	case "reset":
		results, err := p.DownTo(ctx, 0)
		printResults(results...)
		return err
	case "status":
		statuses, err := p.Status(ctx)
		if err != nil {
			return err
		}
		for _, s := range statuses {
			applied := "-"
			if !s.AppliedAt.IsZero() {
				applied = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Printf("%-8s %-20s %s\n", s.State, applied, s.Source.Path)
		}
		return nil
	case "version":
		v, err := p.GetDBVersion(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("version %d\n", v)
		return nil
	default:
		return fmt.Errorf("unknown command")
	}
}

func printResults(results ...*goose.MigrationResult) {
	for _, r := range results {
		if r == nil || r.Source == nil {
			continue
		}
		fmt.Printf("%-4s %s (%s)\n", r.Direction, r.Source.Path, r.Duration)
	}
}

func importCatalog(ctx context.Context, dbPath, dir string) error {
	raw, err := fetcher.NewDir(os.DirFS(dir), dir).Load(ctx)
	if err != nil {
		return err
	}
	c, err := catalog.Normalize(raw)
	if err != nil {
		return err
	}

	store, err := storage.NewSQLite(dbPath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	imp, err := store.ReplaceCatalog(ctx, raw, dir)
	if err != nil {
		return err
	}
	log.Printf("imported #%d: %d raw records, %d rules", imp.ID, imp.RecordCount, c.Len())
	return nil
}

func printStats(ctx context.Context, dbPath string) error {
	store, err := storage.NewSQLite(dbPath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	imp, err := store.LatestImport(ctx)
	if err != nil {
		return err
	}
	raw, err := store.LoadCatalog(ctx)
	if err != nil {
		return err
	}
	c, err := catalog.Normalize(raw)
	if err != nil {
		return err
	}

	fmt.Printf("import #%d from %s at %s\n", imp.ID, imp.Source, imp.ImportedAt.Format("2006-01-02 15:04:05"))
	for _, cat := range model.Categories {
		fmt.Printf("  %-12s %5d\n", cat, c.Count(cat))
	}
	fmt.Printf("  %-12s %5d (%d country rules dropped)\n", "total", c.Len(), c.Dropped())
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
