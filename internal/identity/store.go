package identity

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"
	"github.com/spf13/afero"
	"golang.org/x/oauth2"
)

var ErrNoToken = errors.New("no stored token")

// Token 持久化的令牌，附带登出时需要的 id_token
type Token struct {
	oauth2.Token
	IDToken string `json:"id_token,omitempty"`
}

func newToken(t *oauth2.Token) *Token {
	tok := &Token{Token: *t}
	if id, ok := t.Extra("id_token").(string); ok {
		tok.IDToken = id
	}
	return tok
}

// TokenStore 令牌存储
type TokenStore interface {
	Load() (*Token, error)
	Save(*Token) error
	Clear() error
}

// FileStore 以 JSON 文件保存令牌
type FileStore struct {
	fs   afero.Fs
	path string
}

// NewFileStore fs 为 nil 时使用本地文件系统
func NewFileStore(fs afero.Fs, path string) *FileStore {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &FileStore{fs: fs, path: path}
}

func (s *FileStore) Load() (*Token, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoToken
	}
	if err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}
	var tok Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("parse token file: %w", err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, ErrNoToken
	}
	return &tok, nil
}

func (s *FileStore) Save(tok *Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	return afero.WriteFile(s.fs, s.path, data, 0o600)
}

func (s *FileStore) Clear() error {
	if err := s.fs.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove token file: %w", err)
	}
	return nil
}

// MemoryStore 进程内存储
type MemoryStore struct {
	mu  sync.Mutex
	tok *Token
}

func (s *MemoryStore) Load() (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tok == nil {
		return nil, ErrNoToken
	}
	cp := *s.tok
	return &cp, nil
}

func (s *MemoryStore) Save(tok *Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tok
	s.tok = &cp
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tok = nil
	return nil
}
