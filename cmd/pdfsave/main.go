// Command pdfsave opens a PDF, applies optional annotation edits and saves
// it as a full rewrite or an incremental update.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/wudi/pdfstore"
	"github.com/wudi/pdfstore/ir/raw"
	"github.com/wudi/pdfstore/observability"
	"github.com/wudi/pdfstore/recovery"
	"github.com/wudi/pdfstore/writer"
)

type annotDeletion struct{ page, index int }

type annotText struct {
	num  uint32
	text string
}

type options struct {
	in, out       string
	password      string
	mode          writer.WriteMode
	filter        writer.ContentFilter
	compress      bool
	deterministic bool
	lenient       bool
	verbose       bool
	deletions     []annotDeletion
	texts         []annotText
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "pdfsave: %v\n", err)
		os.Exit(2)
	}
	if err := run(context.Background(), opts); err != nil {
		fmt.Fprintf(os.Stderr, "pdfsave: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("pdfsave", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: pdfsave -in a.pdf -out b.pdf [flags]\n")
		fs.PrintDefaults()
	}
	fs.StringVar(&opts.in, "in", "", "PDF to open")
	fs.StringVar(&opts.out, "out", "", "Where to save (may equal -in)")
	fs.StringVar(&opts.password, "password", "", "Password for encrypted files")
	mode := fs.String("mode", "incremental", "Save mode: full or incremental")
	filter := fs.String("content-filter", "none", "Filter for edited streams: none, flate, lzw, asciihex, ascii85, runlength")
	fs.BoolVar(&opts.compress, "compress-objects", false, "Pack objects into object streams on a full rewrite")
	fs.BoolVar(&opts.deterministic, "deterministic", false, "Derive the file identifier without the clock")
	fs.BoolVar(&opts.lenient, "lenient", false, "Repair damaged cross-reference data instead of failing")
	fs.BoolVar(&opts.verbose, "v", false, "Debug logging")
	fs.Func("delete-annot", "Delete annotation `page:index` (both 1-based); repeatable", func(s string) error {
		d, err := parseDeletion(s)
		if err == nil {
			opts.deletions = append(opts.deletions, d)
		}
		return err
	})
	fs.Func("annot-text", "Set the /Contents of annotation object `num=text`; repeatable", func(s string) error {
		a, err := parseText(s)
		if err == nil {
			opts.texts = append(opts.texts, a)
		}
		return err
	})
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if opts.in == "" || opts.out == "" {
		fs.Usage()
		return options{}, fmt.Errorf("-in and -out are required")
	}
	var err error
	if opts.mode, err = writer.ParseWriteMode(*mode); err != nil {
		return options{}, err
	}
	if opts.filter, err = writer.ParseContentFilter(*filter); err != nil {
		return options{}, err
	}
	return opts, nil
}

func parseDeletion(s string) (annotDeletion, error) {
	p, i, ok := strings.Cut(s, ":")
	page, err1 := strconv.Atoi(p)
	index, err2 := strconv.Atoi(i)
	if !ok || err1 != nil || err2 != nil || page < 1 || index < 1 {
		return annotDeletion{}, fmt.Errorf("bad annotation %q, want page:index", s)
	}
	return annotDeletion{page: page, index: index}, nil
}

func parseText(s string) (annotText, error) {
	n, text, ok := strings.Cut(s, "=")
	num, err := strconv.ParseUint(n, 10, 32)
	if !ok || err != nil || num == 0 {
		return annotText{}, fmt.Errorf("bad annotation text %q, want num=text", s)
	}
	return annotText{num: uint32(num), text: text}, nil
}

func run(ctx context.Context, opts options) error {
	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	log := observability.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg := pdfstore.Config{Password: opts.password, Logger: log}
	if opts.lenient {
		cfg.Recovery = &recovery.LenientStrategy{Logger: log}
	}
	doc, err := pdfstore.OpenFile(ctx, opts.in, cfg)
	if err != nil {
		return err
	}
	defer doc.Close()

	if err := applyEdits(ctx, doc, opts); err != nil {
		return err
	}
	return pdfstore.SaveFile(ctx, doc, opts.out, opts.mode, pdfstore.Options{
		Deterministic: opts.deterministic,
		ObjectStreams: opts.compress,
		ContentFilter: opts.filter,
		Logger:        log,
	})
}

// applyEdits resolves every deletion against the unedited page before
// removing anything, so indexes refer to the file as opened.
func applyEdits(ctx context.Context, doc *pdfstore.Document, opts options) error {
	type target struct{ page, annot raw.ObjectRef }
	var targets []target
	for _, d := range opts.deletions {
		page, err := doc.Page(ctx, d.page-1)
		if err != nil {
			return fmt.Errorf("page %d: %w", d.page, err)
		}
		annots, err := doc.Annotations(ctx, page)
		if err != nil {
			return err
		}
		if d.index > len(annots) {
			return fmt.Errorf("page %d has %d annotations", d.page, len(annots))
		}
		targets = append(targets, target{page, annots[d.index-1]})
	}
	for _, t := range targets {
		if err := doc.DeleteAnnotation(ctx, t.page, t.annot); err != nil {
			return err
		}
		doc.Logger().Info("annotation deleted", observability.String("ref", t.annot.String()))
	}
	for _, a := range opts.texts {
		ref := raw.ObjectRef{Num: a.num, Gen: doc.Generation(a.num)}
		if err := doc.SetAnnotationContents(ctx, ref, a.text); err != nil {
			return err
		}
	}
	return nil
}
