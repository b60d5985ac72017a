package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/objtalk/objtalk/internal/buildinfo"
	"github.com/objtalk/objtalk/internal/client"
)

func main() {
	app := &cli.App{
		Name:    "objtalk-cli",
		Usage:   "talk to an objtalk server",
		Version: buildinfo.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "url",
				Aliases: []string{"u"},
				Value:   "http://127.0.0.1:3000",
				Usage:   "base URL of the server",
			},
		},
		Commands: []*cli.Command{
			getCommand,
			setCommand,
			patchCommand,
			removeCommand,
			emitCommand,
			invokeCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func apiClient(c *cli.Context) *client.Client {
	return client.New(c.String("url"))
}

// jsonArg validates a JSON argument without reformatting it; the server
// keeps the member order the client wrote.
func jsonArg(arg, what string) (json.RawMessage, error) {
	if !json.Valid([]byte(arg)) {
		return nil, cli.Exit(fmt.Sprintf("%s is not valid JSON", what), 1)
	}
	return json.RawMessage(arg), nil
}

func printJSON(raw []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return err
	}
	fmt.Println(buf.String())
	return nil
}

var getCommand = &cli.Command{
	Name:      "get",
	Usage:     "print the objects matching a pattern",
	ArgsUsage: "<pattern>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.Exit("usage: get <pattern>", 1)
		}
		objects, err := apiClient(c).Get(c.Context, c.Args().Get(0))
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(objects, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var setCommand = &cli.Command{
	Name:      "set",
	Usage:     "replace an object's value",
	ArgsUsage: "<name> <value>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 2 {
			return cli.Exit("usage: set <name> <value>", 1)
		}
		value, err := jsonArg(c.Args().Get(1), "value")
		if err != nil {
			return err
		}
		return apiClient(c).Set(c.Context, c.Args().Get(0), value)
	},
}

var patchCommand = &cli.Command{
	Name:      "patch",
	Usage:     "merge a value into an object",
	ArgsUsage: "<name> <value>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 2 {
			return cli.Exit("usage: patch <name> <value>", 1)
		}
		value, err := jsonArg(c.Args().Get(1), "value")
		if err != nil {
			return err
		}
		return apiClient(c).Patch(c.Context, c.Args().Get(0), value)
	},
}

var removeCommand = &cli.Command{
	Name:      "remove",
	Usage:     "remove an object",
	ArgsUsage: "<name>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.Exit("usage: remove <name>", 1)
		}
		name := c.Args().Get(0)
		existed, err := apiClient(c).Remove(c.Context, name)
		if err != nil {
			return err
		}
		if !existed {
			fmt.Fprintf(os.Stderr, "%s doesn't exist\n", name)
		}
		return nil
	},
}

var emitCommand = &cli.Command{
	Name:      "emit",
	Usage:     "fire an event at an object",
	ArgsUsage: "<object> <event> <data>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 3 {
			return cli.Exit("usage: emit <object> <event> <data>", 1)
		}
		data, err := jsonArg(c.Args().Get(2), "data")
		if err != nil {
			return err
		}
		return apiClient(c).Emit(c.Context, c.Args().Get(0), c.Args().Get(1), data)
	},
}

var invokeCommand = &cli.Command{
	Name:      "invoke",
	Usage:     "call a method on an object's provider and print the result",
	ArgsUsage: "<object> <method> [args]",
	Action: func(c *cli.Context) error {
		if c.NArg() != 2 && c.NArg() != 3 {
			return cli.Exit("usage: invoke <object> <method> [args]", 1)
		}
		var args json.RawMessage
		if c.NArg() == 3 {
			var err error
			args, err = jsonArg(c.Args().Get(2), "args")
			if err != nil {
				return err
			}
		}
		result, err := apiClient(c).Invoke(c.Context, c.Args().Get(0), c.Args().Get(1), args)
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}
