package acceptance

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cucumber/godog"

	"github.com/Soflution1/memory-pilot/internal/memory"
)

// TestContext holds state between steps.
type TestContext struct {
	ctx context.Context

	dataDir string
	dbPath  string

	serverCmd    *exec.Cmd
	serverStdin  io.WriteCloser
	serverReader *bufio.Reader
	nextID       int

	store *memory.Store

	lastResponse map[string]interface{}

	lastCLIStdout   string
	lastCLIStderr   string
	lastCLIExitCode int
}

func (tc *TestContext) reset() {
	tc.dataDir = ""
	tc.dbPath = ""
	tc.nextID = 0
	tc.lastResponse = nil
	tc.lastCLIStdout = ""
	tc.lastCLIStderr = ""
	tc.lastCLIExitCode = 0
}

func (tc *TestContext) teardown() {
	if tc.serverCmd != nil && tc.serverCmd.Process != nil {
		tc.serverStdin.Close()
		tc.serverCmd.Process.Kill()
		tc.serverCmd.Wait()
		tc.serverCmd = nil
	}
	if tc.store != nil {
		tc.store.Close()
		tc.store = nil
	}
}

func (tc *TestContext) ensureDataDir() error {
	if tc.dataDir != "" {
		return nil
	}
	dir, err := os.MkdirTemp("", "memorypilot-acceptance-*")
	if err != nil {
		return err
	}
	tc.dataDir = dir
	tc.dbPath = filepath.Join(dir, "memory.db")
	return nil
}

func binaryPath() (string, error) {
	if p := os.Getenv("MEMORYPILOT_TEST_BINARY"); p != "" {
		return p, nil
	}
	built := filepath.Join(os.TempDir(), "memorypilot-acceptance-bin")
	if _, err := os.Stat(built); err == nil {
		return built, nil
	}
	cmd := exec.Command("go", "build", "-o", built, ".")
	cmd.Dir = filepath.Join("..", "..")
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("failed to build memorypilot test binary: %w: %s", err, out)
	}
	return built, nil
}

// mcpServerRunning starts the memorypilot binary in "serve" mode, talking
// JSON-RPC over its stdin/stdout.
func (tc *TestContext) mcpServerRunning() error {
	if err := tc.ensureDataDir(); err != nil {
		return err
	}
	bin, err := binaryPath()
	if err != nil {
		return err
	}

	cmd := exec.Command(bin, "serve")
	cmd.Env = append(os.Environ(), "MEMORYPILOT_DB_PATH="+tc.dbPath)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	tc.serverCmd = cmd
	tc.serverStdin = stdin
	tc.serverReader = bufio.NewReader(stdout)
	return nil
}

func (tc *TestContext) sendRPC(method string, params interface{}) error {
	tc.nextID++
	req := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      tc.nextID,
		"method":  method,
	}
	if params != nil {
		req["params"] = params
	}
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if _, err := tc.serverStdin.Write(append(data, '\n')); err != nil {
		return err
	}
	line, err := tc.serverReader.ReadString('\n')
	if err != nil {
		return err
	}
	var resp map[string]interface{}
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		return fmt.Errorf("invalid JSON-RPC response %q: %w", line, err)
	}
	tc.lastResponse = resp
	return nil
}

func (tc *TestContext) sendMCPInitialize() error {
	return tc.sendRPC("initialize", map[string]interface{}{"protocolVersion": "2024-11-05"})
}

func (tc *TestContext) checkValidInitResponse() error {
	if tc.lastResponse == nil {
		return fmt.Errorf("no response received")
	}
	if _, ok := tc.lastResponse["result"]; !ok {
		return fmt.Errorf("expected result in response, got %v", tc.lastResponse)
	}
	return nil
}

func (tc *TestContext) checkProtocolVersion(want string) error {
	result, _ := tc.lastResponse["result"].(map[string]interface{})
	got, _ := result["protocolVersion"].(string)
	if got != want {
		return fmt.Errorf("protocolVersion: got %q want %q", got, want)
	}
	return nil
}

func (tc *TestContext) checkServerName(want string) error {
	result, _ := tc.lastResponse["result"].(map[string]interface{})
	info, _ := result["serverInfo"].(map[string]interface{})
	got, _ := info["name"].(string)
	if got != want {
		return fmt.Errorf("serverInfo.name: got %q want %q", got, want)
	}
	return nil
}

func (tc *TestContext) requestToolsList() error {
	return tc.sendRPC("tools/list", nil)
}

func (tc *TestContext) toolNames() ([]string, error) {
	result, ok := tc.lastResponse["result"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("no result in response")
	}
	rawTools, ok := result["tools"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("no tools array in response")
	}
	names := make([]string, 0, len(rawTools))
	for _, rt := range rawTools {
		tool, ok := rt.(map[string]interface{})
		if !ok {
			continue
		}
		if name, ok := tool["name"].(string); ok {
			names = append(names, name)
		}
	}
	return names, nil
}

func (tc *TestContext) checkListContains(want string) error {
	names, err := tc.toolNames()
	if err != nil {
		return err
	}
	for _, n := range names {
		if n == want {
			return nil
		}
	}
	return fmt.Errorf("tool list %v does not contain %q", names, want)
}

func (tc *TestContext) checkToolCount(want int) error {
	names, err := tc.toolNames()
	if err != nil {
		return err
	}
	if len(names) != want {
		return fmt.Errorf("tool count: got %d want %d", len(names), want)
	}
	return nil
}

func (tc *TestContext) callMCPToolWithTable(name string, table *godog.Table) error {
	args := map[string]interface{}{}
	for _, row := range table.Rows {
		if len(row.Cells) != 2 {
			continue
		}
		key := row.Cells[0].Value
		val := row.Cells[1].Value
		if n, err := strconv.Atoi(val); err == nil {
			args[key] = n
			continue
		}
		args[key] = val
	}
	return tc.sendRPC("tools/call", map[string]interface{}{"name": name, "arguments": args})
}

func (tc *TestContext) callMCPToolNoArgs(name string) error {
	return tc.sendRPC("tools/call", map[string]interface{}{"name": name, "arguments": map[string]interface{}{}})
}

func (tc *TestContext) resultContent() (map[string]interface{}, error) {
	result, ok := tc.lastResponse["result"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("no result in response: %v", tc.lastResponse)
	}
	return result, nil
}

func (tc *TestContext) checkSuccessResponse() error {
	result, err := tc.resultContent()
	if err != nil {
		return err
	}
	if isErr, _ := result["isError"].(bool); isErr {
		return fmt.Errorf("expected success, got error result: %v", result)
	}
	return nil
}

func (tc *TestContext) checkErrorResponse() error {
	if rpcErr, ok := tc.lastResponse["error"]; ok && rpcErr != nil {
		return nil
	}
	result, err := tc.resultContent()
	if err != nil {
		return err
	}
	if isErr, _ := result["isError"].(bool); isErr {
		return nil
	}
	return fmt.Errorf("expected an error response, got %v", tc.lastResponse)
}

func (tc *TestContext) responseTextContains(want string) error {
	result, err := tc.resultContent()
	if err != nil {
		return err
	}
	content, _ := result["content"].([]interface{})
	for _, c := range content {
		item, ok := c.(map[string]interface{})
		if !ok {
			continue
		}
		if text, ok := item["text"].(string); ok && strings.Contains(text, want) {
			return nil
		}
	}
	return fmt.Errorf("response text does not contain %q: %v", want, result)
}

// memoryStoreInitialized opens a Store directly (bypassing the MCP/CLI
// layers) for scenarios that exercise search/recall semantics in-process.
func (tc *TestContext) memoryStoreInitialized() error {
	if err := tc.ensureDataDir(); err != nil {
		return err
	}
	store, err := memory.Open(tc.dbPath)
	if err != nil {
		return err
	}
	tc.store = store
	return nil
}

func (tc *TestContext) storeMemory(content, kind string) error {
	if tc.store == nil {
		if err := tc.memoryStoreInitialized(); err != nil {
			return err
		}
	}
	_, err := tc.store.Add(tc.ctx, memory.AddInput{Content: content, Kind: kind})
	return err
}

func (tc *TestContext) storeMultipleMemories(count int, project string) error {
	if tc.store == nil {
		if err := tc.memoryStoreInitialized(); err != nil {
			return err
		}
	}
	for i := 0; i < count; i++ {
		content := fmt.Sprintf("memory %d for %s", i, project)
		if _, err := tc.store.Add(tc.ctx, memory.AddInput{Content: content, Kind: "note", Project: &project}); err != nil {
			return err
		}
	}
	return nil
}

func (tc *TestContext) checkResultsContain(want string) error {
	results, err := tc.store.Search(tc.ctx, want, 20, memory.SearchFilters{})
	if err != nil {
		return err
	}
	for _, r := range results {
		if strings.Contains(r.Memory.Content, want) {
			return nil
		}
	}
	return fmt.Errorf("search results do not contain %q", want)
}

func (tc *TestContext) memorypilotInstalled() error {
	_, err := binaryPath()
	return err
}

func (tc *TestContext) runCLICommand(cmdLine string) error {
	if err := tc.ensureDataDir(); err != nil {
		return err
	}
	bin, err := binaryPath()
	if err != nil {
		return err
	}
	parts := strings.Fields(cmdLine)
	if len(parts) > 0 && parts[0] == "memorypilot" {
		parts = parts[1:]
	}
	cmd := exec.Command(bin, parts...)
	cmd.Env = append(os.Environ(), "MEMORYPILOT_DB_PATH="+tc.dbPath)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err = cmd.Run()

	tc.lastCLIStdout = stdout.String()
	tc.lastCLIStderr = stderr.String()
	if exitErr, ok := err.(*exec.ExitError); ok {
		tc.lastCLIExitCode = exitErr.ExitCode()
	} else if err != nil {
		return err
	} else {
		tc.lastCLIExitCode = 0
	}
	return nil
}

func (tc *TestContext) checkCommandSucceeded() error {
	if tc.lastCLIExitCode != 0 {
		return fmt.Errorf("expected exit code 0, got %d (stderr: %s)", tc.lastCLIExitCode, tc.lastCLIStderr)
	}
	return nil
}

func (tc *TestContext) checkCommandFailed() error {
	if tc.lastCLIExitCode == 0 {
		return fmt.Errorf("expected non-zero exit code, got 0")
	}
	return nil
}

func (tc *TestContext) outputShouldContain(want string) error {
	if strings.Contains(tc.lastCLIStdout, want) || strings.Contains(tc.lastCLIStderr, want) {
		return nil
	}
	return fmt.Errorf("output does not contain %q (stdout: %s, stderr: %s)", want, tc.lastCLIStdout, tc.lastCLIStderr)
}
