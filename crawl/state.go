package crawl

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"go.uber.org/zap"
)

// on-disk crawl state: enough to resume an interrupted traversal
type snapshot struct {
	Visited  []string `json:"visited"`
	Frontier []string `json:"frontier"`
}

func (c *Crawler) loadState() error {
	data, err := os.ReadFile(c.StatePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load crawl state:%w", err)
	}

	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decode crawl state:%w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range s.Visited {
		c.visited[id] = true
	}
	for _, url := range s.Frontier {
		c.push(url)
	}

	c.logger.Info("crawl state restored",
		zap.Int("visited", len(s.Visited)),
		zap.Int("frontier", len(s.Frontier)))

	return nil
}

// SaveState snapshots the visited set and pending frontier so a stopped
// run resumes where it left off. A run that exhausted its frontier is not
// resumable but done: the state file is removed, and the next run re-walks
// the graph from the seed to collect that day's observations.
func (c *Crawler) SaveState() error {
	if c.StatePath == "" {
		return nil
	}

	c.mu.Lock()
	if c.completed && len(c.frontier) == 0 {
		c.mu.Unlock()

		if err := os.Remove(c.StatePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("reset crawl state:%w", err)
		}

		return nil
	}

	s := snapshot{
		Visited:  make([]string, 0, len(c.visited)),
		Frontier: append([]string{}, c.frontier...),
	}
	for id := range c.visited {
		s.Visited = append(s.Visited, id)
	}
	c.mu.Unlock()

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode crawl state:%w", err)
	}

	if err := os.WriteFile(c.StatePath, data, 0o644); err != nil {
		return fmt.Errorf("save crawl state:%w", err)
	}

	return nil
}
