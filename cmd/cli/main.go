package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/wadjakorntonsri/go-url-redirector/pkg/adapters/handler"
	"github.com/wadjakorntonsri/go-url-redirector/pkg/app"
	"github.com/wadjakorntonsri/go-url-redirector/pkg/config"
	"github.com/wadjakorntonsri/go-url-redirector/pkg/core/domain"
	"github.com/wadjakorntonsri/go-url-redirector/pkg/core/services"
	"github.com/wadjakorntonsri/go-url-redirector/pkg/logger"
	"github.com/wadjakorntonsri/go-url-redirector/pkg/ports"
)

const usage = "expected one of: put, get, flush, export, import, token"

const exportPageSize = 500

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.Init(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	if err := run(context.Background(), cfg, log, os.Args[1], os.Args[2:], os.Stdout); err != nil {
		log.Error("command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger, cmd string, args []string, out io.Writer) error {
	if cmd == "token" {
		return doToken(cfg, args, out)
	}

	store, err := app.OpenStore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	validator, err := services.NewCodeValidator(cfg.CodeMinLength, cfg.CodeMaxLength, cfg.CodePattern)
	if err != nil {
		return err
	}
	links := services.NewLinkService(store, validator)

	switch cmd {
	case "put":
		fs := flag.NewFlagSet("put", flag.ContinueOnError)
		code := fs.String("code", "", "link code")
		target := fs.String("url", "", "target URL")
		if err := fs.Parse(args); err != nil {
			return err
		}
		rec, err := links.Register(ctx, *code, *target)
		if err != nil {
			return err
		}
		return encode(out, rec)
	case "get":
		fs := flag.NewFlagSet("get", flag.ContinueOnError)
		code := fs.String("code", "", "link code")
		if err := fs.Parse(args); err != nil {
			return err
		}
		rec, err := links.Get(ctx, *code)
		if err != nil {
			return err
		}
		return encode(out, rec)
	case "flush":
		queue, err := app.OpenQueue(ctx, cfg)
		if err != nil {
			return fmt.Errorf("open queue: %w", err)
		}
		defer queue.Close()
		res, err := services.NewFlushAggregator(store, queue, app.FlushOptions(cfg), log).Flush(ctx)
		if encErr := encode(out, res); encErr != nil {
			return encErr
		}
		return err
	case "export":
		return doExport(ctx, store, out)
	case "import":
		fs := flag.NewFlagSet("import", flag.ContinueOnError)
		file := fs.String("file", "", "JSON file to import")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *file == "" {
			fs.PrintDefaults()
			return errors.New("import requires -file")
		}
		return doImport(ctx, store, log, *file)
	default:
		return errors.New(usage)
	}
}

func doToken(cfg *config.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	email := fs.String("email", "", "operator email")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		return errors.New("token requires -email")
	}
	token, _, err := handler.IssueToken([]byte(cfg.JWTSecret), *email, *ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

// dumper is implemented by stores that can read every record in one query
type dumper interface {
	Dump(ctx context.Context) ([]domain.LinkRecord, error)
}

func doExport(ctx context.Context, store ports.LinkStore, out io.Writer) error {
	if d, ok := store.(dumper); ok {
		all, err := d.Dump(ctx)
		if err != nil {
			return fmt.Errorf("export: %w", err)
		}
		if all == nil {
			all = []domain.LinkRecord{}
		}
		return encode(out, all)
	}

	var all []domain.LinkRecord
	for offset := 0; ; offset += exportPageSize {
		page, err := store.List(ctx, exportPageSize, offset)
		if err != nil {
			return fmt.Errorf("export: %w", err)
		}
		all = append(all, page...)
		if len(page) < exportPageSize {
			break
		}
	}
	if all == nil {
		all = []domain.LinkRecord{}
	}
	return encode(out, all)
}

// doImport inserts records that do not exist yet; existing codes are skipped
func doImport(ctx context.Context, store ports.LinkStore, log *slog.Logger, filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	var recs []domain.LinkRecord
	if err := json.NewDecoder(file).Decode(&recs); err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	imported, skipped := 0, 0
	for i := range recs {
		rec := &recs[i]
		if domain.IsReservedCode(rec.Code) {
			log.Error("import failed", "code", rec.Code, "error", domain.ErrReservedCode)
			continue
		}
		err := store.UpsertIfVersion(ctx, rec, 0)
		switch {
		case err == nil:
			imported++
		case errors.Is(err, domain.ErrConflict):
			skipped++
			log.Info("skipping existing code", "code", rec.Code)
		default:
			log.Error("import failed", "code", rec.Code, "error", err)
		}
	}
	log.Info("import complete", "imported", imported, "skipped", skipped, "total", len(recs))
	if failed := len(recs) - imported - skipped; failed > 0 {
		return fmt.Errorf("import: %d of %d records failed", failed, len(recs))
	}
	return nil
}

func encode(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
