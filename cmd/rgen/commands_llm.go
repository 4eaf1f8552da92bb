package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"rgen/internal/adapter/llm"
	"rgen/internal/domain"
)

func generationFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "model", Aliases: []string{"m"}, Usage: "model id (default from config)"},
		&cli.IntFlag{Name: "max-tokens", Usage: "maximum tokens to generate"},
		&cli.Float64Flag{Name: "temperature", Usage: "sampling temperature"},
		&cli.Float64Flag{Name: "top-p", Usage: "nucleus sampling mass"},
	}
}

func generationRequest(c *cli.Context, prompt string) domain.GenerationRequest {
	return domain.GenerationRequest{
		Prompt:      prompt,
		ModelID:     c.String("model"),
		MaxTokens:   optionalInt(c.IsSet("max-tokens"), c.Int("max-tokens")),
		Temperature: optionalFloat(c.IsSet("temperature"), c.Float64("temperature")),
		TopP:        optionalFloat(c.IsSet("top-p"), c.Float64("top-p")),
	}
}

func promptArg(c *cli.Context) (string, error) {
	prompt := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if prompt == "" {
		return "", errors.New("a prompt argument is required")
	}
	return prompt, nil
}

func modelsCommand() *cli.Command {
	return &cli.Command{
		Name:  "models",
		Usage: "List supported models",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "category", Usage: "text, embedding or image (default all)"},
		},
		Action: func(c *cli.Context) error {
			registry := llm.NewRegistry()
			categories := []domain.ModelCategory{domain.CategoryText, domain.CategoryEmbedding, domain.CategoryImage}
			if cat := c.String("category"); cat != "" {
				categories = []domain.ModelCategory{domain.ModelCategory(cat)}
			}
			var out []domain.ModelInfo
			for _, cat := range categories {
				out = append(out, registry.Models(cat)...)
			}
			if len(out) == 0 {
				return fmt.Errorf("no models in category %q", c.String("category"))
			}
			for _, m := range out {
				fmt.Fprintf(c.App.Writer, "%-10s %-45s %s (%s)\n", m.Category, m.ID, m.Name, m.Provider)
			}
			return nil
		},
	}
}

func generateCommand() *cli.Command {
	return &cli.Command{
		Name:      "generate",
		Aliases:   []string{"g"},
		Usage:     "Generate text for a prompt",
		ArgsUsage: "PROMPT",
		Flags: append([]cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "print the full response as JSON"},
		}, generationFlags()...),
		Action: withApp(false, func(c *cli.Context, a *app) error {
			prompt, err := promptArg(c)
			if err != nil {
				return err
			}
			resp, err := a.text.Generate(c.Context, generationRequest(c, prompt))
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return printJSON(c.App.Writer, resp)
			}
			fmt.Fprintln(c.App.Writer, resp.Text)
			return nil
		}),
	}
}

func streamCommand() *cli.Command {
	return &cli.Command{
		Name:      "stream",
		Aliases:   []string{"s"},
		Usage:     "Stream generated text as it arrives",
		ArgsUsage: "PROMPT",
		Flags:     generationFlags(),
		Action: withApp(false, func(c *cli.Context, a *app) error {
			prompt, err := promptArg(c)
			if err != nil {
				return err
			}
			req := generationRequest(c, prompt)
			req.Stream = true
			stream, err := a.text.GenerateStream(c.Context, req)
			if err != nil {
				return err
			}
			for chunk, err := range stream.Iter() {
				if err != nil {
					return err
				}
				fmt.Fprint(c.App.Writer, chunk.Text)
				if chunk.Done {
					break
				}
			}
			fmt.Fprintln(c.App.Writer)
			return nil
		}),
	}
}

func embedCommand() *cli.Command {
	return &cli.Command{
		Name:      "embed",
		Aliases:   []string{"e"},
		Usage:     "Print the embedding of a text",
		ArgsUsage: "TEXT",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "model", Aliases: []string{"m"}, Usage: "embedding model id"},
		},
		Action: withApp(false, func(c *cli.Context, a *app) error {
			text, err := promptArg(c)
			if err != nil {
				return err
			}
			resp, err := a.embedder.GenerateEmbedding(c.Context, domain.EmbeddingRequest{Text: text, ModelID: c.String("model")})
			if err != nil {
				return err
			}
			return printJSON(c.App.Writer, struct {
				Model       string    `json:"model"`
				Dimensions  int       `json:"dimensions"`
				InputTokens int       `json:"input_tokens,omitempty"`
				Embedding   []float32 `json:"embedding"`
			}{resp.Model, len(resp.Embedding), resp.InputTokens, resp.Embedding})
		}),
	}
}

func imageCommand() *cli.Command {
	return &cli.Command{
		Name:      "image",
		Aliases:   []string{"i"},
		Usage:     "Generate images and write them as PNG files",
		ArgsUsage: "PROMPT",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "model", Aliases: []string{"m"}, Usage: "image model id"},
			&cli.IntFlag{Name: "width", Usage: "image width"},
			&cli.IntFlag{Name: "height", Usage: "image height"},
			&cli.IntFlag{Name: "count", Aliases: []string{"n"}, Usage: "number of images"},
			&cli.Float64Flag{Name: "cfg-scale", Usage: "prompt adherence"},
			&cli.IntFlag{Name: "seed", Usage: "sampling seed"},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Value: ".", Usage: "output directory"},
			&cli.StringFlag{Name: "prefix", Value: "image", Usage: "output file name prefix"},
		},
		Action: withApp(false, func(c *cli.Context, a *app) error {
			prompt, err := promptArg(c)
			if err != nil {
				return err
			}
			resp, err := a.images.GenerateImage(c.Context, domain.ImageRequest{
				Prompt:         prompt,
				ModelID:        c.String("model"),
				Width:          optionalInt(c.IsSet("width"), c.Int("width")),
				Height:         optionalInt(c.IsSet("height"), c.Int("height")),
				NumberOfImages: optionalInt(c.IsSet("count"), c.Int("count")),
				CfgScale:       optionalFloat(c.IsSet("cfg-scale"), c.Float64("cfg-scale")),
				Seed:           optionalInt(c.IsSet("seed"), c.Int("seed")),
			})
			if err != nil {
				return err
			}

			dir := c.String("out")
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
			for i, img := range resp.Images {
				data, err := base64.StdEncoding.DecodeString(img)
				if err != nil {
					return domain.NewDomainError("image", domain.ErrResponse, fmt.Sprintf("image %d is not base64: %v", i, err))
				}
				path := filepath.Join(dir, fmt.Sprintf("%s-%d.png", c.String("prefix"), i+1))
				if err := os.WriteFile(path, data, 0o644); err != nil {
					return err
				}
				fmt.Fprintln(c.App.Writer, path)
			}
			return nil
		}),
	}
}
