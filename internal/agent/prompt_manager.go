package agent

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const routerPromptFile = "router.md"

const defaultRouterPrompt = `You route chat messages for an assistant that works with the user's connected apps (toolkits) through Composio.
Call choose_action with the action that fits the latest message:
- use_tools: the user wants something done in one or more apps (create, send, list, update...).
- connect_toolkit: the user wants to connect or authorize an app.
- disconnect_toolkit: the user wants to remove or disconnect an app.
- list_connected: the user asks which apps are connected.
- browse_toolkits: the user asks which apps are available, optionally in a category.
- chat: anything else.
For chat you may answer directly in text instead of calling the tool.`

type PromptManager struct {
	Directory string
}

func NewPromptManager(dir string) *PromptManager {
	return &PromptManager{Directory: dir}
}

// ResponseStyle joins the persona files in a fixed order, then the rest by
// name. The router prompt is excluded.
func (pm *PromptManager) ResponseStyle() (string, error) {
	files, err := os.ReadDir(pm.Directory)
	if err != nil {
		return "", fmt.Errorf("failed to read prompts directory: %v", err)
	}

	var contents []string

	order := map[string]int{
		"identity.md": 1,
		"soul.md":     2,
		"style.md":    3,
		"user.md":     4,
	}

	sort.Slice(files, func(i, j int) bool {
		oi, okI := order[files[i].Name()]
		oj, okJ := order[files[j].Name()]
		if okI && okJ {
			return oi < oj
		}
		if okI {
			return true
		}
		if okJ {
			return false
		}
		return files[i].Name() < files[j].Name()
	})

	for _, f := range files {
		if !f.IsDir() && strings.HasSuffix(f.Name(), ".md") && f.Name() != routerPromptFile {
			path := filepath.Join(pm.Directory, f.Name())
			data, err := os.ReadFile(path)
			if err != nil {
				log.Printf("Warning: Failed to read prompt file %s: %v", path, err)
				continue
			}
			contents = append(contents, strings.TrimSpace(string(data)))
		}
	}

	if len(contents) == 0 {
		return "", fmt.Errorf("no prompt files found in %s", pm.Directory)
	}

	return strings.Join(contents, "\n\n---\n\n"), nil
}

// RouterPrompt reads router.md, falling back to the built-in prompt.
func (pm *PromptManager) RouterPrompt() (string, error) {
	path := filepath.Join(pm.Directory, routerPromptFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return defaultRouterPrompt, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read router prompt: %v", err)
	}
	return string(data), nil
}
