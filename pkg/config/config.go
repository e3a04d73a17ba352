package config

import (
	"fmt"
	"os"
	"os/user"
	"path"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".wavedbg"
	configFile string = "config.yml"
)

// Config defines all configuration options available to be set through the
// config file. The command line glue overrides individual fields.
type Config struct {
	// SaveCodeObjects is a directory where the raw bytes of every loaded
	// code object are saved during a reporting pass. Empty disables saving.
	SaveCodeObjects string `yaml:"save-code-objects"`

	// AllWavefronts stops every wave, not just the ones already stopped,
	// before a report is printed.
	AllWavefronts bool `yaml:"all-wavefronts"`

	// PreciseMemory requests exact-PC-after-fault memory precision from the
	// attachment. Unsupported agents produce a warning, not an error.
	PreciseMemory bool `yaml:"precise-memory"`

	// KernelFilter restricts reports to waves whose enclosing function
	// symbol name starts with this prefix.
	KernelFilter string `yaml:"kernel-filter"`

	// Flavour selects the assembly syntax used in disassembly listings,
	// one of "gnu" (default), "intel" or "go".
	Flavour string `yaml:"disassembly-flavour"`

	// Output is the file reports are written to. Empty means stderr.
	Output string `yaml:"output"`
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Printf("Could not create config directory: %v.", err)
		return &Config{}
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Printf("Unable to get config file path: %v.", err)
		return &Config{}
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			fmt.Printf("Error creating default config file: %v", err)
			return &Config{}
		}
	}
	defer func() {
		err := f.Close()
		if err != nil {
			fmt.Printf("Closing config file failed: %v.", err)
		}
	}()

	data, err := os.ReadFile(fullConfigFile)
	if err != nil {
		fmt.Printf("Unable to read config data: %v.", err)
		return &Config{}
	}

	var c Config
	err = yaml.Unmarshal(data, &c)
	if err != nil {
		fmt.Printf("Unable to decode config file: %v.", err)
		return &Config{}
	}

	return &c
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for the wavefront debug agent.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Uncomment the following line to save the raw bytes of every loaded code
# object under the given directory during a reporting pass.
# save-code-objects: /tmp/wavedbg

# Stop every wave before reporting, not only the waves already stopped.
# all-wavefronts: true

# Request exact-PC-after-fault memory precision from the attachment.
# precise-memory: true

# Only report waves whose enclosing function symbol starts with this prefix.
# kernel-filter: _Z

# Assembly syntax used for disassembly listings: gnu, intel or go.
# disassembly-flavour: gnu

# File reports are written to. The default is stderr.
# output: /tmp/wavedbg.out
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}
