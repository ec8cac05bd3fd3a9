package acpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/kandev/agentrt/pkg/acp/jsonrpc"
)

// ReadFile implements toolhandler.FileSystem by asking the client to read
// its own (possibly unsaved) buffer for path — the ext fs/read_text_file
// round trip, gated on the client's declared fs.readTextFile capability.
func (s *Server) ReadFile(ctx context.Context, path string) (string, error) {
	caps := s.clientCaps.Load()
	if caps == nil || !caps.FS.ReadTextFile {
		return "", fmt.Errorf("client capability fs.readTextFile is not declared")
	}
	params := jsonrpc.FsReadTextFileParams{SessionID: sessionIDFromContext(ctx), Path: path}
	raw, err := s.sendRequest(ctx, jsonrpc.MethodFsReadTextFile, params)
	if err != nil {
		return "", err
	}
	var result jsonrpc.FsReadTextFileResult
	if err := unmarshalResult(raw, &result); err != nil {
		return "", err
	}
	return result.Content, nil
}

// WriteFile implements toolhandler.FileSystem via the ext
// fs/write_text_file round trip, so the client can keep an open buffer in
// sync with the write.
func (s *Server) WriteFile(ctx context.Context, path, content string) error {
	caps := s.clientCaps.Load()
	if caps == nil || !caps.FS.WriteTextFile {
		return fmt.Errorf("client capability fs.writeTextFile is not declared")
	}
	params := jsonrpc.FsWriteTextFileParams{SessionID: sessionIDFromContext(ctx), Path: path, Content: content}
	_, err := s.sendRequest(ctx, jsonrpc.MethodFsWriteTextFile, params)
	return err
}

// ListDir implements toolhandler.FileSystem directly against the local
// filesystem: directory listing doesn't touch unsaved editor state, so
// there's no ext method for it in the protocol (§6).
func (s *Server) ListDir(_ context.Context, path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names, nil
}

// Exists implements toolhandler.FileSystem directly against the local
// filesystem.
func (s *Server) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Create implements toolhandler.TerminalManager via the ext terminal/create
// request. A pending ChangeDir for sessionID overrides cwd.
func (s *Server) Create(ctx context.Context, sessionID, command, cwd string) (string, error) {
	caps := s.clientCaps.Load()
	if caps == nil || !caps.Terminal {
		return "", fmt.Errorf("client capability terminal is not declared")
	}

	s.termMu.Lock()
	if override, ok := s.termCwd[sessionID]; ok {
		cwd = override
	}
	s.termMu.Unlock()

	params := jsonrpc.TerminalCreateParams{SessionID: sessionID, Command: command, Cwd: cwd}
	raw, err := s.sendRequest(ctx, jsonrpc.MethodTerminalCreate, params)
	if err != nil {
		return "", err
	}
	var result jsonrpc.TerminalCreateResult
	if err := unmarshalResult(raw, &result); err != nil {
		return "", err
	}

	s.termMu.Lock()
	s.termSession[result.TerminalID] = sessionID
	s.termMu.Unlock()
	return result.TerminalID, nil
}

// Write implements toolhandler.TerminalManager. The ACP terminal surface is
// one-shot (create/output/wait_for_exit/kill/release, no interactive
// stdin), so a second write to an existing terminal can't be serviced;
// callers should create a fresh terminal per command instead.
func (s *Server) Write(_ context.Context, terminalID, _ string) error {
	s.termMu.Lock()
	_, ok := s.termSession[terminalID]
	s.termMu.Unlock()
	if !ok {
		return fmt.Errorf("unknown terminal %q", terminalID)
	}
	return fmt.Errorf("interactive terminal input is not supported; create a new terminal per command")
}

// ChangeDir implements toolhandler.TerminalManager by recording sessionID's
// working-directory override for subsequent Create calls.
func (s *Server) ChangeDir(_ context.Context, sessionID, path string) error {
	s.termMu.Lock()
	s.termCwd[sessionID] = path
	s.termMu.Unlock()
	return nil
}

func unmarshalResult(raw []byte, out interface{}) error {
	if len(raw) == 0 {
		return fmt.Errorf("empty result")
	}
	return json.Unmarshal(raw, out)
}
