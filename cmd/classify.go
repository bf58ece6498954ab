/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"os"
	"subpulse/classifier"

	"github.com/cqroot/prompt"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func classifyCmd() *cli.Command {
	return &cli.Command{
		Name:  "classify",
		Usage: "Classify a single post",
		Description: `Classifies a single post into the fixed categories and prints the
result as JSON. Prompts for the title and content when they are not given as flags.

Useful to check the model and prompt without touching the cache store.`,
		Flags: append(openAIFlags(),
			configFlag(),
			&cli.StringFlag{
				Name:    "title",
				Aliases: []string{"t"},
				Usage:   "Post title",
			},
			&cli.StringFlag{
				Name:    "body",
				Aliases: []string{"b"},
				Usage:   "Post content",
			},
		),
		Action: func(ctx *cli.Context) error {
			log.SetOutput(os.Stderr)

			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}

			if ctx.String("openai-api-key") == "" {
				return errors.New("please specify an OpenAI API key with --openai-api-key or OPENAI_API_KEY")
			}

			title := ctx.String("title")
			if title == "" {
				title, err = prompt.New().Ask("Title:").Input("")
				if err != nil {
					return err
				}
			}

			body := ctx.String("body")
			if !ctx.IsSet("body") {
				body, err = prompt.New().Ask("Content:").Input("")
				if err != nil {
					return err
				}
			}

			c := classifier.NewClassifier(newOpenAICompleter(ctx, cfg))
			classification, err := c.Classify(ctx.Context, title, body)
			if err != nil {
				return err
			}

			printStdout(classification)
			return nil
		},
	}
}
