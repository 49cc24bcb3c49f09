package identity

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// OpenBrowser 用系统默认浏览器打开地址
func OpenBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux", "freebsd":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}
	return nil
}

type callbackResult struct {
	code string
	err  error
}

// callbackHandler 接收一次授权回调
type callbackHandler struct {
	state   string
	once    sync.Once
	results chan callbackResult
}

func (h *callbackHandler) send(res callbackResult) bool {
	sent := false
	h.once.Do(func() {
		h.results <- res
		sent = true
	})
	return sent
}

func (h *callbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/callback" {
		http.NotFound(w, r)
		return
	}
	q := r.URL.Query()
	state := q.Get("state")
	// state 不符的请求直接拒绝，不占用这次回调
	if state != h.state && (state != "" || q.Get("error") == "") {
		http.Error(w, "invalid login state", http.StatusBadRequest)
		return
	}
	var res callbackResult
	switch {
	case q.Get("error") != "":
		res.err = fmt.Errorf("authorization failed: %s %s", q.Get("error"), q.Get("error_description"))
	case q.Get("code") == "":
		res.err = errors.New("authorization code missing")
	default:
		res.code = q.Get("code")
	}
	if !h.send(res) {
		http.Error(w, "Callback already processed", http.StatusBadRequest)
		return
	}
	if res.err != nil {
		http.Error(w, res.err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, `<!DOCTYPE html><html><head><title>StreamTrack</title></head>`+
		`<body><h1>Logged in</h1><p>You can close this window and return to the terminal.</p></body></html>`)
}

// LoginBrowser 授权码 + PKCE 登录，回调由本机回环地址接收
func (s *Session) LoginBrowser(ctx context.Context, open func(authURL string) error) error {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("listen for callback: %w", err)
	}
	conf := s.cfg.oauth2Config(fmt.Sprintf("http://%s/callback", ln.Addr()))

	h := &callbackHandler{state: uuid.NewString(), results: make(chan callbackResult, 1)}
	srv := &http.Server{Handler: h}
	go srv.Serve(ln)
	defer srv.Shutdown(context.Background())

	verifier := oauth2.GenerateVerifier()
	if err := open(conf.AuthCodeURL(h.state, oauth2.S256ChallengeOption(verifier))); err != nil {
		return err
	}

	var res callbackResult
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res = <-h.results:
	}
	if res.err != nil {
		return res.err
	}

	tok, err := conf.Exchange(s.withClient(ctx), res.code, oauth2.VerifierOption(verifier))
	if err != nil {
		return fmt.Errorf("token exchange failed: %w", err)
	}
	return s.setToken(tok)
}
