package target

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"tether/cmd/internal/fault"
)

// proxyFile is the YAML layout of a proxy list file.
type proxyFile struct {
	Proxies []string `yaml:"proxies"`
}

// LoadProxyFile reads proxy descriptors from path.
//
// Files ending in .yaml/.yml hold either a `proxies:` list or a bare list.
// Any other file is plain text: one descriptor per line, blank lines and
// lines starting with '#' ignored.
func LoadProxyFile(path string) ([]*Proxy, error) {
	const op = "target.LoadProxyFile"

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fault.Configuration(op, err.Error())
	}

	var raws []string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		raws, err = parseProxyYAML(data)
		if err != nil {
			return nil, fault.Configuration(op, fmt.Sprintf("%s: %v", path, err))
		}
	default:
		raws, err = parseProxyLines(data)
		if err != nil {
			return nil, fault.Configuration(op, fmt.Sprintf("%s: %v", path, err))
		}
	}

	return ParseProxies(raws)
}

func parseProxyYAML(data []byte) ([]string, error) {
	var doc proxyFile
	if err := yaml.Unmarshal(data, &doc); err == nil && len(doc.Proxies) > 0 {
		return doc.Proxies, nil
	}
	var list []string
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("want `proxies:` list or a bare list of descriptors: %w", err)
	}
	return list, nil
}

func parseProxyLines(data []byte) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
