package utils

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"gopkg.in/yaml.v2"
)

var EtcDir = "."
var DataDir = "."

// ServiceConfig carries the process level settings shared by
// every collection under a namespace.
type ServiceConfig struct {
	EDRHostname     string `json:"edr_hostname" yaml:"edr_hostname"`
	MemcacheAddress string `json:"memcache_address" yaml:"memcache_address"`
	PostgresConn    string `json:"postgres_conn" yaml:"postgres_conn"`
	NameSpace       string `json:"-" yaml:"-"`
}

// DerivedParam defines a parameter computed elementwise from the
// variables of the source file, e.g. {"name": "speed",
// "expression": "(u*u + v*v) ** 0.5"}. Expressions are parsed with
// ParseParamExpressions at load time.
type DerivedParam struct {
	Name       string `json:"name" yaml:"name"`
	Expression string `json:"expression" yaml:"expression"`
	Units      string `json:"units" yaml:"units"`
	LongName   string `json:"long_name" yaml:"long_name"`
}

// DatasetDef contains all the details a collection needs to be
// published and queried.
type DatasetDef struct {
	NameSpace     string         `json:"-" yaml:"-"`
	Name          string         `json:"name" yaml:"name"`
	Title         string         `json:"title" yaml:"title"`
	Abstract      string         `json:"abstract" yaml:"abstract"`
	Keywords      []string       `json:"keywords" yaml:"keywords"`
	Path          string         `json:"path" yaml:"path"`
	CRS           string         `json:"crs" yaml:"crs"`
	DerivedParams []DerivedParam `json:"derived_params" yaml:"derived_params"`
}

// Config is the struct representing the configuration of an EDR
// server namespace. It contains the service settings as well as the
// list of datasets that can be served as EDR collections.
type Config struct {
	ServiceConfig ServiceConfig `json:"service_config" yaml:"service_config"`
	Datasets      []DatasetDef  `json:"datasets" yaml:"datasets"`
}

// string used to format Go ISO times
const ISOFormat = "2006-01-02T15:04:05Z"

// LoadConfigFile unmarshals one config.json document into a Config.
func (config *Config) LoadConfigFile(configFile string) error {
	*config = Config{}
	cfg, err := os.ReadFile(configFile)
	if err != nil {
		return fmt.Errorf("Error while reading config file: %s. Error: %v", configFile, err)
	}

	err = json.Unmarshal(cfg, config)
	if err != nil {
		return fmt.Errorf("Error at JSON parsing config document: %s. Error: %v", configFile, err)
	}

	return config.validate(configFile)
}

func (config *Config) validate(configFile string) error {
	seen := make(map[string]bool)
	for i, ds := range config.Datasets {
		if len(strings.TrimSpace(ds.Name)) == 0 {
			return fmt.Errorf("%s: dataset %d has no name", configFile, i)
		}
		if seen[ds.Name] {
			return fmt.Errorf("%s: duplicate dataset name: %s", configFile, ds.Name)
		}
		seen[ds.Name] = true
		if len(strings.TrimSpace(ds.Path)) == 0 && len(config.ServiceConfig.PostgresConn) == 0 {
			return fmt.Errorf("%s: dataset %s has no path", configFile, ds.Name)
		}
	}
	return nil
}

// mergeYAMLDescriptors loads every *.yaml file next to a config.json
// and appends the dataset definitions found in them. Descriptors use
// the same fields as the JSON datasets section.
func (config *Config) mergeYAMLDescriptors(dir string) error {
	matches, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return err
	}
	for _, match := range matches {
		raw, err := os.ReadFile(match)
		if err != nil {
			return fmt.Errorf("Error while reading descriptor file: %s. Error: %v", match, err)
		}

		var desc struct {
			Datasets []DatasetDef `yaml:"datasets"`
		}
		err = yaml.Unmarshal(raw, &desc)
		if err != nil {
			return fmt.Errorf("Error at YAML parsing descriptor: %s. Error: %v", match, err)
		}
		config.Datasets = append(config.Datasets, desc.Datasets...)
	}
	return nil
}

// LoadAllConfigFiles walks rootDir looking for config.json files.
// Each directory containing one becomes a namespace whose relative
// path prefixes the collection URLs served out of it.
func LoadAllConfigFiles(rootDir string, verbose bool) (map[string]*Config, error) {
	configMap := make(map[string]*Config)
	err := filepath.Walk(rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if !info.IsDir() && info.Name() == "config.json" {
			relPath, _ := filepath.Rel(rootDir, filepath.Dir(path))
			if verbose {
				log.Printf("Loading config file: %s under namespace: %s\n", path, relPath)
			}

			config := &Config{}
			e := config.LoadConfigFile(path)
			if e != nil {
				return e
			}

			e = config.mergeYAMLDescriptors(filepath.Dir(path))
			if e != nil {
				return e
			}

			ns := relPath
			if relPath == "." {
				ns = ""
			}
			configMap[relPath] = config
			config.ServiceConfig.NameSpace = ns
			for i := range config.Datasets {
				config.Datasets[i].NameSpace = ns
			}
		}
		return nil
	})

	if err == nil && len(configMap) == 0 {
		err = fmt.Errorf("No config file found under %s", rootDir)
	}

	return configMap, err
}

// DumpConfig serialises the loaded configs for -dump_conf.
func DumpConfig(configMap map[string]*Config) (string, error) {
	configJson, err := json.MarshalIndent(configMap, "", "    ")
	if err != nil {
		return "", err
	}
	return string(configJson), nil
}

// GetDatasetIndex returns the index of the named collection inside
// the Config.Datasets field.
func GetDatasetIndex(name string, config *Config) (int, error) {
	for i := range config.Datasets {
		if config.Datasets[i].Name == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%s not found in config Datasets", name)
}

// WatchConfig catches SIGHUP to reload the config map in place. The
// onReload hook lets the caller reopen datasets for the new configs.
func WatchConfig(infoLog, errLog *log.Logger, configMap *map[string]*Config, verbose bool, onReload func(map[string]*Config)) {
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			infoLog.Println("Caught SIGHUP, reloading config...")
			confMap, err := LoadAllConfigFiles(EtcDir, verbose)
			if err != nil {
				errLog.Printf("Error in loading config files: %v\n", err)
				continue
			}

			for k := range *configMap {
				delete(*configMap, k)
			}

			for k := range confMap {
				(*configMap)[k] = confMap[k]
			}

			if onReload != nil {
				onReload(confMap)
			}
		}
	}()
}
