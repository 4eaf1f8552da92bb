package main

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"rgen/internal/domain"
	"rgen/internal/usecase"
)

func namespaceFlag() cli.Flag {
	return &cli.StringFlag{Name: "namespace", Aliases: []string{"ns"}, Usage: "record namespace (default from config)"}
}

// requireStorage fails the way the RAG orchestrator does when no backend is configured.
func requireStorage(a *app) error {
	if a.storage == nil {
		return domain.WrapOp("store", domain.ErrNoStorage)
	}
	return nil
}

func ragCommand() *cli.Command {
	return &cli.Command{
		Name:      "rag",
		Aliases:   []string{"ask"},
		Usage:     "Answer a question from stored context",
		ArgsUsage: "QUESTION",
		Flags: append([]cli.Flag{
			namespaceFlag(),
			&cli.IntFlag{Name: "limit", Aliases: []string{"k"}, Usage: "context records to retrieve"},
			&cli.StringSliceFlag{Name: "filter", Aliases: []string{"f"}, Usage: "metadata filter key=value (repeatable)"},
			&cli.StringFlag{Name: "embedding-model", Usage: "embedding model id"},
			&cli.BoolFlag{Name: "sources", Usage: "print the retrieved records after the answer"},
		}, generationFlags()...),
		Action: withApp(true, func(c *cli.Context, a *app) error {
			question, err := promptArg(c)
			if err != nil {
				return err
			}
			filter, err := parseMetadata(c.StringSlice("filter"))
			if err != nil {
				return err
			}
			req := generationRequest(c, question)
			res, err := a.rag.GenerateWithContext(c.Context, question, usecase.RAGOptions{
				Namespace:      c.String("namespace"),
				ContextLimit:   c.Int("limit"),
				Filter:         filter,
				ModelID:        req.ModelID,
				EmbeddingModel: c.String("embedding-model"),
				MaxTokens:      req.MaxTokens,
				Temperature:    req.Temperature,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, res.Text)
			if c.Bool("sources") {
				for _, s := range res.Sources {
					fmt.Fprintf(c.App.Writer, "[%.4f] %s\n", s.Score, s.ID)
				}
			}
			return nil
		}),
	}
}

func storeCommand() *cli.Command {
	return &cli.Command{
		Name:  "store",
		Usage: "Manage records in the vector store",
		Subcommands: []*cli.Command{
			{
				Name:      "insert",
				Usage:     "Embed a text and store it",
				ArgsUsage: "TEXT",
				Flags: []cli.Flag{
					namespaceFlag(),
					&cli.StringFlag{Name: "id", Usage: "record id (default: generated)"},
					&cli.StringSliceFlag{Name: "meta", Usage: "metadata key=value (repeatable)"},
					&cli.StringFlag{Name: "embedding-model", Usage: "embedding model id"},
				},
				Action: withApp(true, storeInsert),
			},
			{
				Name:      "search",
				Usage:     "Find the records closest to a query",
				ArgsUsage: "QUERY",
				Flags: []cli.Flag{
					namespaceFlag(),
					&cli.IntFlag{Name: "limit", Aliases: []string{"k"}, Usage: "maximum results"},
					&cli.StringSliceFlag{Name: "filter", Aliases: []string{"f"}, Usage: "metadata filter key=value (repeatable)"},
					&cli.StringFlag{Name: "embedding-model", Usage: "embedding model id"},
					&cli.BoolFlag{Name: "vectors", Usage: "include vectors in the output"},
				},
				Action: withApp(true, storeSearch),
			},
			{
				Name:      "get",
				Usage:     "Print one record",
				ArgsUsage: "ID",
				Flags:     []cli.Flag{namespaceFlag()},
				Action:    withApp(true, storeGet),
			},
			{
				Name:      "delete",
				Usage:     "Delete records by id",
				ArgsUsage: "ID...",
				Flags:     []cli.Flag{namespaceFlag()},
				Action:    withApp(true, storeDelete),
			},
			{
				Name:  "list",
				Usage: "List recent records (backends with a native scan only)",
				Flags: []cli.Flag{
					namespaceFlag(),
					&cli.IntFlag{Name: "limit", Value: 20, Usage: "maximum records"},
				},
				Action: withApp(true, storeList),
			},
			{
				Name:   "stats",
				Usage:  "Print backend statistics",
				Flags:  []cli.Flag{namespaceFlag()},
				Action: withApp(true, storeStats),
			},
		},
	}
}

func storeInsert(c *cli.Context, a *app) error {
	text, err := promptArg(c)
	if err != nil {
		return err
	}
	md, err := parseMetadata(c.StringSlice("meta"))
	if err != nil {
		return err
	}
	res, err := a.rag.EmbedAndStore(c.Context, text, usecase.StoreOptions{
		ID:             c.String("id"),
		Namespace:      c.String("namespace"),
		Metadata:       md,
		EmbeddingModel: c.String("embedding-model"),
	})
	if err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("insert %s: %s", res.ID, res.Message)
	}
	fmt.Fprintln(c.App.Writer, res.ID)
	return nil
}

func storeSearch(c *cli.Context, a *app) error {
	query, err := promptArg(c)
	if err != nil {
		return err
	}
	filter, err := parseMetadata(c.StringSlice("filter"))
	if err != nil {
		return err
	}
	resp, err := a.rag.SemanticSearch(c.Context, query, usecase.SearchOptions{
		Namespace:      c.String("namespace"),
		Limit:          c.Int("limit"),
		Filter:         filter,
		EmbeddingModel: c.String("embedding-model"),
		IncludeVectors: c.Bool("vectors"),
	})
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, resp.Results)
}

func storeGet(c *cli.Context, a *app) error {
	if err := requireStorage(a); err != nil {
		return err
	}
	id := c.Args().First()
	if id == "" {
		return errors.New("an id argument is required")
	}
	rec, err := a.storage.Get(c.Context, id, a.namespace(c))
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("record %s not found", id)
	}
	return printJSON(c.App.Writer, rec)
}

func storeDelete(c *cli.Context, a *app) error {
	if err := requireStorage(a); err != nil {
		return err
	}
	ids := c.Args().Slice()
	if len(ids) == 0 {
		return errors.New("at least one id is required")
	}
	results, err := a.storage.DeleteBatch(c.Context, ids, a.namespace(c))
	if err != nil {
		return err
	}
	var missing int
	for _, r := range results {
		status := "deleted"
		if !r.Success {
			status = r.Message
			missing++
		}
		fmt.Fprintf(c.App.Writer, "%s\t%s\n", r.ID, status)
	}
	if missing > 0 {
		return fmt.Errorf("%d of %d records not deleted", missing, len(ids))
	}
	return nil
}

func storeList(c *cli.Context, a *app) error {
	if err := requireStorage(a); err != nil {
		return err
	}
	recs, err := a.storage.List(c.Context, a.namespace(c), c.Int("limit"))
	if err != nil {
		return err
	}
	if !a.storage.Capabilities().NativeList {
		fmt.Fprintf(c.App.ErrWriter, "%s cannot list records\n", a.storage.Name())
	}
	return printJSON(c.App.Writer, recs)
}

func storeStats(c *cli.Context, a *app) error {
	if err := requireStorage(a); err != nil {
		return err
	}
	stats, err := a.storage.Stats(c.Context, a.namespace(c))
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, struct {
		Backend string `json:"backend"`
		*domain.StorageStats
	}{a.storage.Name(), stats})
}

func (a *app) namespace(c *cli.Context) string {
	if ns := c.String("namespace"); ns != "" {
		return ns
	}
	return a.cfg.RAG.Namespace
}
