package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/peterbourgon/ff/ffyaml"
	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"

	"github.com/imanolz/songstudio"
	"github.com/imanolz/songstudio/pkg/cmd/serve"
	"github.com/imanolz/songstudio/pkg/songwriter"
)

func New(version, commit, date string) *ffcli.Command {
	fs := flag.NewFlagSet("songstudio", flag.ExitOnError)

	return &ffcli.Command{
		ShortUsage: "songstudio [flags] <subcommand>",
		FlagSet:    fs,
		Exec: func(context.Context, []string) error {
			return flag.ErrHelp
		},
		Subcommands: []*ffcli.Command{
			newVersionCommand(version, commit, date),
			newServeCommand(),
			newGenerateCommand(),
			newEditCommand(),
			newChatCommand(),
			newCoverCommand(),
			newSubmitCommand(),
		},
	}
}

func newVersionCommand(version, commit, date string) *ffcli.Command {
	return &ffcli.Command{
		Name:       "version",
		ShortUsage: "songstudio version",
		ShortHelp:  "print version",
		Exec: func(ctx context.Context, args []string) error {
			v := version
			if v == "" {
				if buildInfo, ok := debug.ReadBuildInfo(); ok {
					v = buildInfo.Main.Version
				}
			}
			if v == "" {
				v = "dev"
			}
			versionFields := []string{v}
			if commit != "" {
				versionFields = append(versionFields, commit)
			}
			if date != "" {
				versionFields = append(versionFields, date)
			}
			fmt.Println(strings.Join(versionFields, " "))
			return nil
		},
	}
}

func options() []ff.Option {
	return []ff.Option{
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ffyaml.Parser),
		ff.WithEnvVarPrefix("SONGSTUDIO"),
	}
}

func oracleFlags(fs *flag.FlagSet, cfg *songstudio.Config) {
	fs.BoolVar(&cfg.Debug, "debug", false, "debug mode")
	fs.StringVar(&cfg.Token, "token", "", "api token")
	fs.StringVar(&cfg.Model, "model", "", "chat model override")
	fs.StringVar(&cfg.ImageModel, "image-model", "", "image model override")
	fs.StringVar(&cfg.Host, "host", "", "api host override")
	fs.StringVar(&cfg.Proxy, "proxy", "", "proxy to use")
	fs.DurationVar(&cfg.Wait, "wait", 1*time.Second, "wait time between api calls")
}

func newServeCommand() *ffcli.Command {
	cmd := "serve"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &serve.Config{}

	fs.BoolVar(&cfg.Debug, "debug", false, "debug mode")
	fs.StringVar(&cfg.Addr, "addr", ":1337", "address to listen on")
	fsMapVar(fs, &cfg.Credentials, "creds", nil, "credentials to use (semicolon separated) Example: user1:pass1;user2:pass2")
	fs.BoolVar(&cfg.Open, "open", false, "open the browser on start")
	fs.DurationVar(&cfg.SessionTTL, "session-ttl", 2*time.Hour, "idle session eviction time")

	fs.StringVar(&cfg.Token, "token", "", "api token")
	fs.StringVar(&cfg.Model, "model", "", "chat model override")
	fs.StringVar(&cfg.ImageModel, "image-model", "", "image model override")
	fs.StringVar(&cfg.Host, "host", "", "api host override")
	fs.DurationVar(&cfg.Wait, "wait", 1*time.Second, "wait time between api calls")

	fs.StringVar(&cfg.Endpoint, "endpoint", "", "submission endpoint url")
	fs.StringVar(&cfg.PersonaFile, "persona", "", "persona yaml file (optional)")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("songstudio %s [flags]", cmd),
		Options:    options(),
		ShortHelp:  "run the studio web service",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			return serve.Serve(ctx, cfg)
		},
	}
}

func newGenerateCommand() *ffcli.Command {
	cmd := "generate"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &songstudio.Config{}
	oracleFlags(fs, cfg)

	var params songwriter.Params
	fs.StringVar(&params.Theme, "theme", "", "song theme or idea")
	fs.StringVar(&params.Genre, "genre", "", "song genre")
	fs.StringVar(&params.Mood, "mood", "", "song mood")
	fs.StringVar(&params.Structure, "structure", "", "song structure (optional)")
	fs.StringVar(&params.Instrumentation, "instrumentation", "", "instrumentation (optional)")
	fs.StringVar(&params.VocalStyle, "vocal-style", "", "vocal style (optional)")
	var output string
	fs.StringVar(&output, "output", "", "output file (default stdout)")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("songstudio %s [flags]", cmd),
		Options:    options(),
		ShortHelp:  "generate a song from parameters",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			return songstudio.GenerateSong(ctx, cfg, params, output)
		},
	}
}

func newEditCommand() *ffcli.Command {
	cmd := "edit"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &songstudio.Config{}
	oracleFlags(fs, cfg)

	var input, instruction, output string
	fs.StringVar(&input, "input", "", "song file to edit")
	fs.StringVar(&instruction, "instruction", "", "edit instruction")
	fs.StringVar(&output, "output", "", "output file (default input)")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("songstudio %s [flags]", cmd),
		Options:    options(),
		ShortHelp:  "edit a song file with an instruction",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			if input == "" {
				return errors.New("input file is required")
			}
			if instruction == "" {
				return errors.New("instruction is required")
			}
			return songstudio.EditSong(ctx, cfg, input, instruction, output)
		},
	}
}

func newChatCommand() *ffcli.Command {
	cmd := "chat"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &songstudio.Config{}
	oracleFlags(fs, cfg)

	var persona, output string
	fs.StringVar(&persona, "persona", "", "persona yaml file (optional)")
	fs.StringVar(&output, "output", "", "file to save songs shared in the chat (optional)")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("songstudio %s [flags]", cmd),
		Options:    options(),
		ShortHelp:  "chat with the artist on the terminal",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			return songstudio.Chat(ctx, cfg, persona, output)
		},
	}
}

func newCoverCommand() *ffcli.Command {
	cmd := "cover"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &songstudio.Config{}
	oracleFlags(fs, cfg)

	var input, description, output string
	fs.StringVar(&input, "input", "", "song file")
	fs.StringVar(&description, "description", "", "cover art description (default song title)")
	fs.StringVar(&output, "output", "cover.png", "output image file")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("songstudio %s [flags]", cmd),
		Options:    options(),
		ShortHelp:  "generate cover art for a song file",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			if input == "" {
				return errors.New("input file is required")
			}
			return songstudio.GenerateCover(ctx, cfg, input, description, output)
		},
	}
}

func newSubmitCommand() *ffcli.Command {
	cmd := "submit"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &songstudio.Config{}
	oracleFlags(fs, cfg)

	var endpoint, input, cover, name, email string
	fs.StringVar(&endpoint, "endpoint", "", "submission endpoint url")
	fs.StringVar(&input, "input", "", "song file")
	fs.StringVar(&cover, "cover", "", "cover image file (optional)")
	fs.StringVar(&name, "name", "", "submitter name")
	fs.StringVar(&email, "email", "", "submitter email")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("songstudio %s [flags]", cmd),
		Options:    options(),
		ShortHelp:  "submit a song to the endpoint",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			if input == "" {
				return errors.New("input file is required")
			}
			return songstudio.SubmitSong(ctx, cfg, endpoint, input, cover, name, email)
		},
	}
}

type mapValue struct {
	v *map[string]string
}

func (m *mapValue) String() string {
	if m.v == nil {
		return ""
	}
	return fmt.Sprintf("%v", map[string]string(*m.v))
}

func (m *mapValue) Set(value string) error {
	if m.v == nil {
		return errors.New("nil map reference")
	}
	pairs := strings.Split(value, ";")
	for _, pair := range pairs {
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid map entry: %s", pair)
		}
		(*m.v)[parts[0]] = parts[1]
	}
	return nil
}

func fsMapVar(fs *flag.FlagSet, p *map[string]string, name string, value map[string]string, usage string) {
	if value == nil {
		value = make(map[string]string)
	}
	*p = value
	fs.Var(&mapValue{p}, name, usage)
}
