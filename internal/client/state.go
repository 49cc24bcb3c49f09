package client

import "sync"

// RequestState 单个视图的请求状态
type RequestState int

const (
	StateIdle RequestState = iota
	StateLoading
	StateSuccess
	StateError
)

func (s RequestState) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateSuccess:
		return "success"
	case StateError:
		return "error"
	default:
		return "idle"
	}
}

// Request 记录视图的请求状态与最近一次错误
type Request struct {
	mu    sync.RWMutex
	state RequestState
	err   error
}

// Start 进入 loading，清除旧错误
func (r *Request) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = StateLoading
	r.err = nil
}

// Finish 根据 err 进入 success 或 error
func (r *Request) Finish(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.state = StateError
		r.err = err
		return
	}
	r.state = StateSuccess
	r.err = nil
}

// Dismiss 关闭错误提示，回到 idle
func (r *Request) Dismiss() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = StateIdle
	r.err = nil
}

func (r *Request) State() RequestState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *Request) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}

func (r *Request) Loading() bool {
	return r.State() == StateLoading
}

// Do 执行 fn 并记录状态
func (r *Request) Do(fn func() error) error {
	r.Start()
	err := fn()
	r.Finish(err)
	return err
}
