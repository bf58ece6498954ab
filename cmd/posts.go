/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

const outputDescription = `

Returns each post as a JSON object on a single line. Use a tool like jq to process
the output.

Prints all other log messages to stderr.`

func postsCmd() *cli.Command {
	return &cli.Command{
		Name:      "posts",
		Usage:     "Print the posts of a channel",
		ArgsUsage: "<channel>",
		Description: `Prints the posts of a channel ordered by score, from the cache when
fresh and from Reddit otherwise.` + outputDescription,
		Flags: pipelineFlags(),
		Action: func(ctx *cli.Context) error {
			channel, err := channelArg(ctx)
			if err != nil {
				return err
			}

			w, err := assemble(ctx)
			if err != nil {
				return err
			}
			defer w.Close()

			posts, err := w.Pipeline.GetCachedOrFreshPosts(ctx.Context, channel)
			if err != nil {
				return err
			}
			for _, post := range posts {
				printStdout(post)
			}
			return nil
		},
	}
}

func classifiedCmd() *cli.Command {
	return &cli.Command{
		Name:      "classified",
		Usage:     "Print the classified posts of a channel",
		ArgsUsage: "<channel>",
		Description: `Prints the newest posts of a channel together with their categories,
from the cache when fresh. Otherwise the posts are fetched from Reddit and
classified first.` + outputDescription,
		Flags: pipelineFlags(),
		Action: func(ctx *cli.Context) error {
			channel, err := channelArg(ctx)
			if err != nil {
				return err
			}

			w, err := assemble(ctx)
			if err != nil {
				return err
			}
			defer w.Close()

			posts, err := w.Pipeline.GetCachedOrFreshClassifiedPosts(ctx.Context, channel)
			if err != nil {
				return err
			}
			for _, post := range posts {
				printStdout(post)
			}
			return nil
		},
	}
}

func channelArg(ctx *cli.Context) (string, error) {
	// Keep stdout for the JSON output
	log.SetOutput(os.Stderr)

	if ctx.NArg() != 1 {
		return "", errors.New("expected exactly one channel argument")
	}
	return ctx.Args().First(), nil
}

// Print as single JSON string on a single line
func printStdout(v any) {
	encoded, err := json.Marshal(v)
	if err == nil {
		fmt.Println(string(encoded))
	}
}
