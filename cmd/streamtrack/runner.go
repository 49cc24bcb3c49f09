package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"
	"github.com/user/streamtrack/internal/client"
	"github.com/user/streamtrack/internal/config"
	"github.com/user/streamtrack/internal/identity"
)

// errAdminOnly 当前用户没有 admin 角色
var errAdminOnly = errors.New("this command requires the admin role")

// Runner 持有所有命令共用的依赖
type Runner struct {
	config      *config.ClientConfig
	session     *identity.Session
	backend     *client.Backend
	catalog     *client.Catalog
	logger      *log.Logger
	output      io.Writer
	input       *bufio.Reader
	openBrowser func(string) error
}

// RunnerOpts 创建 Runner 的选项，未设置的字段使用默认值
type RunnerOpts struct {
	Config      *config.ClientConfig
	Session     *identity.Session
	Backend     *client.Backend
	Catalog     *client.Catalog
	Logger      *log.Logger
	Output      io.Writer
	Input       io.Reader
	OpenBrowser func(string) error
}

func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = config.DefaultClientConfig()
	}
	if opts.Logger == nil {
		opts.Logger = newLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Input == nil {
		opts.Input = os.Stdin
	}
	if opts.OpenBrowser == nil {
		opts.OpenBrowser = identity.OpenBrowser
	}
	if opts.Session == nil {
		opts.Session = identity.NewSession(keycloakConfig(opts.Config), nil)
	}
	httpClient := &http.Client{Timeout: opts.Config.API.Timeout.Duration}
	if opts.Backend == nil {
		c := client.New(opts.Config.API.URL,
			client.WithHTTPClient(httpClient),
			client.WithTokenSource(opts.Session),
		)
		opts.Backend = client.NewBackend(c)
	}
	if opts.Catalog == nil {
		opts.Catalog = client.NewCatalog(client.New(opts.Config.Catalog.URL, client.WithHTTPClient(httpClient)))
	}

	return &Runner{
		config:      opts.Config,
		session:     opts.Session,
		backend:     opts.Backend,
		catalog:     opts.Catalog,
		logger:      opts.Logger,
		output:      opts.Output,
		input:       bufio.NewReader(opts.Input),
		openBrowser: opts.OpenBrowser,
	}
}

func keycloakConfig(cfg *config.ClientConfig) identity.Config {
	return identity.Config{
		URL:      cfg.Keycloak.URL,
		Realm:    cfg.Keycloak.Realm,
		ClientID: cfg.Keycloak.ClientID,
	}
}

func newLogger(w io.Writer) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	return log.NewWithOptions(w, log.Options{ReportTimestamp: true})
}

func newFileLogger(path string) (*log.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, err
	}
	return newLogger(f), nil
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range []func(*Runner) *cli.Command{
		authCommand, searchCommand, detailsCommand, discoverCommand,
		notesCommand, watchlistCommand, profileCommand, adminCommand, tuiCommand,
	} {
		commands = append(commands, fn(r))
	}
	return commands
}

// before 校验已保存的会话，失败不阻止命令执行
func (r *Runner) before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if cmd.Bool("verbose") {
		r.logger.SetLevel(log.DebugLevel)
	}
	if err := r.session.Init(ctx); err != nil {
		r.logger.Warn("session check failed", "err", err)
	}
	if claims, ok := r.session.Claims(); ok {
		r.logger.Debug("session restored", "user", claims.Username)
	}
	return ctx, nil
}

func (r *Runner) after(ctx context.Context, cmd *cli.Command) error {
	return r.session.Close()
}

// requireAdmin 管理命令前的角色检查
func (r *Runner) requireAdmin() error {
	if !r.session.Authenticated() {
		return client.ErrNotAuthenticated
	}
	if !r.session.HasRole("admin") {
		return errAdminOnly
	}
	return nil
}

// confirm 删除类操作的确认提示，--yes 跳过
func (r *Runner) confirm(cmd *cli.Command, prompt string) (bool, error) {
	if cmd.Bool("yes") {
		return true, nil
	}
	if err := r.writePlain("%s [y/N]: ", prompt); err != nil {
		return false, err
	}
	answer, err := r.readLine()
	if err != nil {
		return false, err
	}
	answer = strings.ToLower(answer)
	return answer == "y" || answer == "yes", nil
}

func (r *Runner) readLine() (string, error) {
	line, err := r.input.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	output = append(output, '\n')
	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	if _, err := fmt.Fprintf(r.output, format, args...); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("───────────────────────────────────────\n")
	r.writePlain("%v\n", title)
	r.writePlain("───────────────────────────────────────\n")
}

// jsonFlags 输出格式选项
func jsonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Output raw JSON",
		},
		&cli.BoolFlag{
			Name:  "pretty",
			Usage: "Pretty-print JSON output",
			Value: true,
		},
	}
}

func yesFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:    "yes",
		Aliases: []string{"y"},
		Usage:   "Skip the confirmation prompt",
	}
}

// render JSON 模式下输出原始数据，否则调用 plain
func (r *Runner) render(cmd *cli.Command, data any, plain func() error) error {
	if cmd.Bool("json") {
		return r.writeJSON(data, cmd.Bool("pretty"))
	}
	return plain()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
