// Package config loads the two flat text files that supply this system's
// fixed tunables and peer table: Common.cfg and PeerInfo.cfg, whitespace-
// separated key/value lines with '#' or '//' comments. Unknown keys are
// ignored, and numPieces is derived as ceil(FileSize/PieceSize).
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/EthanAGit/p2pProj/internal/errs"
)

// Peer is one row of PeerInfo.cfg: id, host, port, and whether that peer
// starts the swarm already holding the complete file.
type Peer struct {
	ID      string
	Host    string
	Port    int
	HasFile bool
}

// Common holds every tunable from Common.cfg plus the peer table from
// PeerInfo.cfg and the derived piece count.
type Common struct {
	NumberOfPreferredNeighbors  int
	UnchokingInterval           int // seconds; this is p
	OptimisticUnchokingInterval int // seconds; this is m
	FileName                    string
	FileSize                    int64
	PieceSize                   int
	NumPieces                   int
	Peers                       []Peer
}

// Load reads commonPath and peerInfoPath and returns the combined
// configuration, or a *errs.Config on any parse/validation failure.
func Load(commonPath, peerInfoPath string) (*Common, error) {
	kv, err := parseKV(commonPath)
	if err != nil {
		return nil, &errs.Config{Op: "read " + commonPath, Err: err}
	}

	c := &Common{}
	var missing []string

	if v, ok := kv["NumberOfPreferredNeighbors"]; ok {
		c.NumberOfPreferredNeighbors, err = strconv.Atoi(v)
		if err != nil {
			return nil, &errs.Config{Op: "parse NumberOfPreferredNeighbors", Err: err}
		}
	} else {
		missing = append(missing, "NumberOfPreferredNeighbors")
	}
	if v, ok := kv["UnchokingInterval"]; ok {
		c.UnchokingInterval, err = strconv.Atoi(v)
		if err != nil {
			return nil, &errs.Config{Op: "parse UnchokingInterval", Err: err}
		}
	} else {
		missing = append(missing, "UnchokingInterval")
	}
	if v, ok := kv["OptimisticUnchokingInterval"]; ok {
		c.OptimisticUnchokingInterval, err = strconv.Atoi(v)
		if err != nil {
			return nil, &errs.Config{Op: "parse OptimisticUnchokingInterval", Err: err}
		}
	} else {
		missing = append(missing, "OptimisticUnchokingInterval")
	}
	if v, ok := kv["FileName"]; ok {
		c.FileName = v
	} else {
		missing = append(missing, "FileName")
	}
	if v, ok := kv["FileSize"]; ok {
		c.FileSize, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, &errs.Config{Op: "parse FileSize", Err: err}
		}
	} else {
		missing = append(missing, "FileSize")
	}
	if v, ok := kv["PieceSize"]; ok {
		c.PieceSize, err = strconv.Atoi(v)
		if err != nil {
			return nil, &errs.Config{Op: "parse PieceSize", Err: err}
		}
	} else {
		missing = append(missing, "PieceSize")
	}
	if len(missing) > 0 {
		return nil, &errs.Config{Op: fmt.Sprintf("missing keys in %s: %s", commonPath, strings.Join(missing, ", "))}
	}
	if c.PieceSize <= 0 {
		return nil, &errs.Config{Op: "PieceSize must be positive"}
	}
	c.NumPieces = int((c.FileSize + int64(c.PieceSize) - 1) / int64(c.PieceSize))

	peers, err := parsePeerInfo(peerInfoPath)
	if err != nil {
		return nil, &errs.Config{Op: "read " + peerInfoPath, Err: err}
	}
	if len(peers) == 0 {
		return nil, &errs.Config{Op: peerInfoPath + " has no peers"}
	}
	c.Peers = peers
	return c, nil
}

// PeerByID looks up a row of the peer table by id.
func (c *Common) PeerByID(id string) (Peer, bool) {
	for _, p := range c.Peers {
		if p.ID == id {
			return p, true
		}
	}
	return Peer{}, false
}

// PeersBefore returns every peer table row preceding id's row, in file
// order — the set this peer must dial outbound.
func (c *Common) PeersBefore(id string) []Peer {
	out := make([]Peer, 0, len(c.Peers))
	for _, p := range c.Peers {
		if p.ID == id {
			break
		}
		out = append(out, p)
	}
	return out
}

func stripComment(line string) string {
	cut := -1
	if i := strings.IndexByte(line, '#'); i >= 0 {
		cut = i
	}
	if i := strings.Index(line, "//"); i >= 0 && (cut < 0 || i < cut) {
		cut = i
	}
	if cut >= 0 {
		return line[:cut]
	}
	return line
}

func parseKV(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := make(map[string]string)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(stripComment(sc.Text()))
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		out[fields[0]] = fields[1]
	}
	return out, sc.Err()
}

func parsePeerInfo(path string) ([]Peer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var peers []Peer
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(stripComment(sc.Text()))
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			return nil, fmt.Errorf("bad PeerInfo.cfg line (need 4 columns): %q", line)
		}
		port, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, fmt.Errorf("bad port in %q: %w", line, err)
		}
		peers = append(peers, Peer{
			ID:      fields[0],
			Host:    fields[1],
			Port:    port,
			HasFile: fields[3] == "1",
		})
	}
	return peers, sc.Err()
}
