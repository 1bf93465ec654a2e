// Package miner clusters log messages into templates with the Drain algorithm.
//
// Drain is a fixed-depth prefix tree for online log parsing ("Drain: An
// Online Log Parsing Approach with Fixed Depth Tree", ICWS'17):
//   - Layer 1: token count
//   - Layers 2..depth-1: leading tokens, tokens with digits route to <*>
//   - Leaves: cluster IDs compared by token similarity
//
// Matching clusters are generalized in place: tokens that differ from the
// template become <*>. Clusters live in an LRU bounded by MaxClusters;
// evicted IDs still referenced by leaves are skipped and pruned lazily.
package miner

import (
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/cockroachdb/errors"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/dshills/logsift/internal/logging"
)

// Wildcard is the template token standing for any value
const Wildcard = "<*>"

// ChangeType reports what AddMessage did to the cluster set
type ChangeType string

const (
	ChangeNone            ChangeType = "none"
	ChangeClusterCreated  ChangeType = "cluster_created"
	ChangeTemplateChanged ChangeType = "cluster_template_changed"
)

// Config holds the clustering parameters
type Config struct {
	Depth           int        `json:"depth"`
	SimThreshold    float64    `json:"sim_threshold"`
	MaxChildren     int        `json:"max_children"`
	MaxClusters     int        `json:"max_clusters"`
	ExtraDelimiters []string   `json:"extra_delimiters,omitempty"`
	Masking         []MaskRule `json:"masking,omitempty"`
}

// DefaultConfig returns the default clustering parameters
func DefaultConfig() Config {
	return Config{
		Depth:        4,
		SimThreshold: 0.4,
		MaxChildren:  100,
		MaxClusters:  100000,
		Masking:      DefaultMasking(),
	}
}

// Validate checks that the parameters describe a usable tree
func (c Config) Validate() error {
	if c.Depth < 3 {
		return errors.Newf("depth must be >= 3, got %d", c.Depth)
	}
	if c.SimThreshold < 0 || c.SimThreshold > 1 {
		return errors.Newf("sim_threshold must be within [0,1], got %v", c.SimThreshold)
	}
	if c.MaxChildren < 2 {
		return errors.Newf("max_children must be >= 2, got %d", c.MaxChildren)
	}
	if c.MaxClusters < 1 {
		return errors.Newf("max_clusters must be >= 1, got %d", c.MaxClusters)
	}
	return nil
}

// Cluster is a snapshot of one template cluster
type Cluster struct {
	ID       int    `json:"id"`
	Template string `json:"template"`
	Size     int64  `json:"size"`
}

// Result describes the outcome of AddMessage
type Result struct {
	ClusterID  int
	Template   string
	ChangeType ChangeType
	Size       int64
}

type cluster struct {
	id     int
	tokens []string
	size   int64
}

func (c *cluster) template() string {
	return strings.Join(c.tokens, " ")
}

type node struct {
	children   map[string]*node
	clusterIDs []int
}

func newNode() *node {
	return &node{children: make(map[string]*node)}
}

// Miner is a Drain template miner. It is safe for concurrent use; calls are
// serialized internally.
type Miner struct {
	mu       sync.Mutex
	cfg      Config
	root     *node
	clusters *lru.Cache[int, *cluster]
	nextID   int
	masker   *masker
	params   *lru.Cache[string, *paramPattern]
	replacer *strings.Replacer
	log      *zap.SugaredLogger
}

// New creates an empty miner
func New(cfg Config, logger *zap.SugaredLogger) (*Miner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid miner config")
	}
	mk, err := newMasker(cfg.Masking)
	if err != nil {
		return nil, err
	}
	clusters, err := lru.New[int, *cluster](cfg.MaxClusters)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create cluster cache")
	}
	params, err := lru.New[string, *paramPattern](paramCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create parameter cache")
	}

	var pairs []string
	for _, d := range cfg.ExtraDelimiters {
		if d != "" {
			pairs = append(pairs, d, " ")
		}
	}

	return &Miner{
		cfg:      cfg,
		root:     newNode(),
		clusters: clusters,
		masker:   mk,
		params:   params,
		replacer: strings.NewReplacer(pairs...),
		log:      logging.Component(logger, "miner"),
	}, nil
}

// Config returns the parameters the miner runs with
func (m *Miner) Config() Config {
	return m.cfg
}

// Mine clusters message and returns its template together with the
// positional parameters extracted from the message
func (m *Miner) Mine(message string) (string, []string) {
	res := m.AddMessage(message)
	return res.Template, m.Parameters(res.Template, message)
}

// AddMessage masks and tokenizes message, then matches it to an existing
// cluster or creates a new one
func (m *Miner) AddMessage(message string) Result {
	tokens := strings.Fields(m.masker.mask(m.preprocess(message)))

	m.mu.Lock()
	defer m.mu.Unlock()

	match := m.treeSearch(tokens)
	if match == nil {
		m.nextID++
		c := &cluster{id: m.nextID, tokens: tokens, size: 1}
		m.clusters.Add(c.id, c)
		m.addToTree(c)
		return Result{ClusterID: c.id, Template: c.template(), ChangeType: ChangeClusterCreated, Size: 1}
	}

	change := ChangeNone
	generalized := generalize(tokens, match.tokens)
	if !equalTokens(generalized, match.tokens) {
		match.tokens = generalized
		change = ChangeTemplateChanged
	}
	match.size++
	// touch for LRU recency
	m.clusters.Get(match.id)

	return Result{ClusterID: match.id, Template: match.template(), ChangeType: change, Size: match.size}
}

// ClusterCount returns the number of live clusters
func (m *Miner) ClusterCount() int {
	return m.clusters.Len()
}

// Clusters returns live clusters from least to most recently used
func (m *Miner) Clusters() []Cluster {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Cluster, 0, m.clusters.Len())
	for _, id := range m.clusters.Keys() {
		c, ok := m.clusters.Peek(id)
		if !ok {
			continue
		}
		out = append(out, Cluster{ID: c.id, Template: c.template(), Size: c.size})
	}
	return out
}

func (m *Miner) preprocess(message string) string {
	return strings.TrimSpace(m.replacer.Replace(message))
}

func (m *Miner) maxNodeDepth() int {
	return m.cfg.Depth - 2
}

// treeSearch descends the tree for tokens and returns the best matching
// cluster of the leaf, or nil
func (m *Miner) treeSearch(tokens []string) *cluster {
	tokenCount := len(tokens)
	cur, ok := m.root.children[lengthKey(tokenCount)]
	if !ok {
		return nil
	}
	if tokenCount == 0 {
		for _, id := range cur.clusterIDs {
			if c, ok := m.clusters.Peek(id); ok {
				return c
			}
		}
		return nil
	}

	depth := 1
	for _, token := range tokens {
		if depth >= m.maxNodeDepth() || depth == tokenCount {
			break
		}
		next, ok := cur.children[token]
		if !ok {
			next, ok = cur.children[Wildcard]
		}
		if !ok {
			return nil
		}
		cur = next
		depth++
	}

	return m.fastMatch(cur.clusterIDs, tokens)
}

// fastMatch picks the most similar candidate. Ties go to the template with
// more wildcards.
func (m *Miner) fastMatch(ids []int, tokens []string) *cluster {
	var best *cluster
	bestSim := -1.0
	bestParams := -1

	for _, id := range ids {
		c, ok := m.clusters.Peek(id)
		if !ok {
			continue
		}
		sim, params := seqDistance(c.tokens, tokens)
		if sim > bestSim || (sim == bestSim && params > bestParams) {
			best, bestSim, bestParams = c, sim, params
		}
	}

	if best == nil || bestSim < m.cfg.SimThreshold {
		return nil
	}
	return best
}

// addToTree inserts a new cluster ID into the leaf for its tokens
func (m *Miner) addToTree(c *cluster) {
	tokenCount := len(c.tokens)
	key := lengthKey(tokenCount)
	cur, ok := m.root.children[key]
	if !ok {
		cur = newNode()
		m.root.children[key] = cur
	}
	if tokenCount == 0 {
		cur.clusterIDs = []int{c.id}
		return
	}

	depth := 1
	for _, token := range c.tokens {
		if depth >= m.maxNodeDepth() || depth >= tokenCount {
			live := cur.clusterIDs[:0]
			for _, id := range cur.clusterIDs {
				if m.clusters.Contains(id) {
					live = append(live, id)
				}
			}
			cur.clusterIDs = append(live, c.id)
			return
		}

		next, ok := cur.children[token]
		if !ok {
			next = m.childFor(cur, token)
		}
		cur = next
		depth++
	}
}

// childFor routes an unseen token, creating a child when the fan-out allows
func (m *Miner) childFor(cur *node, token string) *node {
	if hasDigit(token) {
		return ensureChild(cur, Wildcard)
	}
	if _, ok := cur.children[Wildcard]; ok {
		if len(cur.children) < m.cfg.MaxChildren {
			return ensureChild(cur, token)
		}
		return cur.children[Wildcard]
	}
	switch {
	case len(cur.children)+1 < m.cfg.MaxChildren:
		return ensureChild(cur, token)
	default:
		return ensureChild(cur, Wildcard)
	}
}

func ensureChild(n *node, key string) *node {
	child, ok := n.children[key]
	if !ok {
		child = newNode()
		n.children[key] = child
	}
	return child
}

// seqDistance returns the share of exactly matching tokens and the number of
// wildcard positions in the template
func seqDistance(template, tokens []string) (float64, int) {
	if len(template) != len(tokens) {
		return 0, 0
	}
	if len(template) == 0 {
		return 1, 0
	}

	sim, params := 0, 0
	for i, t := range template {
		if t == Wildcard {
			params++
			continue
		}
		if t == tokens[i] {
			sim++
		}
	}
	return float64(sim) / float64(len(template)), params
}

// generalize replaces differing positions with the wildcard
func generalize(tokens, template []string) []string {
	out := make([]string, len(template))
	for i := range template {
		if tokens[i] == template[i] {
			out[i] = template[i]
		} else {
			out[i] = Wildcard
		}
	}
	return out
}

func equalTokens(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func hasDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func lengthKey(n int) string {
	return "len_" + strconv.Itoa(n)
}
