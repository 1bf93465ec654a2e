package miner

import (
	"encoding/json"
	"os"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/dshills/logsift/internal/fsutil"
)

// StateFile is the persisted miner state inside a project directory
const StateFile = "miner_state.json"

const stateVersion = 1

type stateDoc struct {
	Version  int            `json:"version"`
	Config   Config         `json:"config"`
	NextID   int            `json:"next_id"`
	Clusters []clusterState `json:"clusters"` // least recently used first
	Tree     *nodeState     `json:"tree"`
}

type clusterState struct {
	ID     int      `json:"id"`
	Tokens []string `json:"tokens"`
	Size   int64    `json:"size"`
}

type nodeState struct {
	Children   map[string]*nodeState `json:"children,omitempty"`
	ClusterIDs []int                 `json:"cluster_ids,omitempty"`
}

// Load resumes a miner from path. A missing file starts a fresh miner; a
// corrupt one is logged and also starts fresh. cfg always wins over the
// persisted configuration.
func Load(path string, cfg Config, logger *zap.SugaredLogger) (*Miner, error) {
	m, err := New(cfg, logger)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read miner state %s", path)
	}

	var doc stateDoc
	if err := json.Unmarshal(data, &doc); err != nil || doc.Tree == nil {
		m.log.Warnw("Miner state corrupt, starting fresh", "path", path, "error", err)
		return m, nil
	}
	m.restore(doc)
	return m, nil
}

// Save writes the miner state to path via atomic replace
func (m *Miner) Save(path string) error {
	m.mu.Lock()
	doc := m.snapshot()
	m.mu.Unlock()

	data, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "failed to encode miner state")
	}
	if err := fsutil.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, "failed to write miner state")
	}
	return nil
}

func (m *Miner) snapshot() stateDoc {
	doc := stateDoc{
		Version:  stateVersion,
		Config:   m.cfg,
		NextID:   m.nextID,
		Clusters: make([]clusterState, 0, m.clusters.Len()),
		Tree:     dumpNode(m.root),
	}
	for _, id := range m.clusters.Keys() {
		c, ok := m.clusters.Peek(id)
		if !ok {
			continue
		}
		doc.Clusters = append(doc.Clusters, clusterState{ID: c.id, Tokens: c.tokens, Size: c.size})
	}
	return doc
}

func (m *Miner) restore(doc stateDoc) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.root = loadNode(doc.Tree)
	m.nextID = doc.NextID
	for _, cs := range doc.Clusters {
		m.clusters.Add(cs.ID, &cluster{id: cs.ID, tokens: cs.Tokens, size: cs.Size})
		if cs.ID > m.nextID {
			m.nextID = cs.ID
		}
	}
}

func dumpNode(n *node) *nodeState {
	s := &nodeState{ClusterIDs: append([]int(nil), n.clusterIDs...)}
	if len(n.children) > 0 {
		s.Children = make(map[string]*nodeState, len(n.children))
		for k, child := range n.children {
			s.Children[k] = dumpNode(child)
		}
	}
	return s
}

func loadNode(s *nodeState) *node {
	n := newNode()
	if s == nil {
		return n
	}
	n.clusterIDs = append(n.clusterIDs, s.ClusterIDs...)
	for k, child := range s.Children {
		n.children[k] = loadNode(child)
	}
	return n
}
