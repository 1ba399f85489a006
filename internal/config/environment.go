package config

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/docker/go-units"

	"github.com/jveski/workspaced/common"
)

type environmentFile struct {
	Name     string                           `toml:"name"`
	Machines map[string]*common.MachineConfig `toml:"machine"`
}

// LoadEnvironment reads an environment file, named after the file unless it sets a name.
func LoadEnvironment(path string) (*common.Environment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return ReadEnvironment(f, name)
}

// ReadEnvironment decodes an environment and hashes its content.
func ReadEnvironment(r io.Reader, defaultName string) (*common.Environment, error) {
	hash := md5.New()
	file := &environmentFile{}
	if _, err := toml.NewDecoder(io.TeeReader(r, hash)).Decode(file); err != nil {
		return nil, fmt.Errorf("decoding environment: %w", err)
	}

	for name, mc := range file.Machines {
		if mc == nil || mc.Memory == "" {
			continue
		}
		limit, err := units.RAMInBytes(mc.Memory)
		if err != nil {
			return nil, fmt.Errorf("parsing memory of machine %q: %w", name, err)
		}
		mc.MemoryLimit = limit
	}

	name := file.Name
	if name == "" {
		name = defaultName
	}
	env := common.NewEnvironment(name, file.Machines)
	env.Hash = hex.EncodeToString(hash.Sum(nil))
	return env, nil
}
