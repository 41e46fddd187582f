package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/ini.v1"

	"github.com/xmysql-server/fixedkv-btree/logger"
)

var ConfigPath string

type CommandLineArgs struct {
	ConfigPath string
}

// Cfg holds node fan-out, a cache flush period, and log destinations. The
// demo CLI uses only the fan-out fields; nothing in this module reads the
// flush period or the log fields. Everything about wire protocol,
// sessions, or storage engines beyond the tree itself is out of scope.
type Cfg struct {
	Raw *ini.File

	AppName string

	// logs
	LogError string `default:"error.log" yaml:"log_error" json:"log_error,omitempty"`
	LogInfos string `default:"bptree.log" yaml:"log_infos" json:"log_infos,omitempty"`
	LogLevel string `default:"info" yaml:"log_level" json:"log_level,omitempty"`

	// tree
	BtreeMaxEntries   int           `default:"16" yaml:"btree_max_entries" json:"btree_max_entries,omitempty"`
	BtreeMinEntries   int           `default:"8" yaml:"btree_min_entries" json:"btree_min_entries,omitempty"`
	CacheFlushPeriod  string        `default:"5s" yaml:"cache_flush_period" json:"cache_flush_period,omitempty"`
	CacheFlushPeriodD time.Duration
}

func NewCfg() *Cfg {
	return &Cfg{
		Raw:              ini.Empty(),
		AppName:          "fixedkv-btree",
		LogError:         "error.log",
		LogInfos:         "bptree.log",
		LogLevel:         "info",
		BtreeMaxEntries:  16,
		BtreeMinEntries:  8,
		CacheFlushPeriod: "5s",
	}
}

// Load reads an ini file (if one is given) into Cfg, filling in defaults
// for any section or key the file doesn't set; an integer key that does
// not parse also keeps its default. A config path that cannot be loaded,
// or a cache_flush_period that is not a valid duration, exits the process.
func (cfg *Cfg) Load(args *CommandLineArgs) *Cfg {
	setHomePath(args)
	iniFile, err := cfg.loadConfiguration(args)
	if err != nil {
		logger.Debugf("failed to load config file: %v", err)
		os.Exit(1)
	}
	cfg.Raw = iniFile

	cfg.parseBtreeCfg(cfg.Raw.Section("btree"))
	cfg.parseLogsCfg(cfg.Raw.Section("logs"))
	return cfg
}

func setHomePath(args *CommandLineArgs) {
	if args.ConfigPath != "" {
		ConfigPath = args.ConfigPath
		return
	}
	ConfigPath, _ = filepath.Abs(".")
}

func (cfg *Cfg) loadConfiguration(args *CommandLineArgs) (*ini.File, error) {
	if args.ConfigPath == "" {
		return ini.Empty(), nil
	}
	return ini.Load(args.ConfigPath)
}

func (cfg *Cfg) parseBtreeCfg(section *ini.Section) *Cfg {
	if section == nil {
		return cfg
	}
	if key, err := section.GetKey("max_entries"); err == nil {
		cfg.BtreeMaxEntries = key.MustInt(cfg.BtreeMaxEntries)
	}
	if key, err := section.GetKey("min_entries"); err == nil {
		cfg.BtreeMinEntries = key.MustInt(cfg.BtreeMinEntries)
	}
	if key, err := section.GetKey("cache_flush_period"); err == nil {
		cfg.CacheFlushPeriod = key.MustString(cfg.CacheFlushPeriod)
	}
	d, err := time.ParseDuration(cfg.CacheFlushPeriod)
	if err != nil {
		logger.Error(fmt.Sprintf("time.ParseDuration(cache_flush_period=%q) = error{%v}", cfg.CacheFlushPeriod, err))
		os.Exit(1)
	}
	cfg.CacheFlushPeriodD = d
	return cfg
}

func (cfg *Cfg) parseLogsCfg(section *ini.Section) *Cfg {
	if section == nil {
		return cfg
	}
	if key, err := section.GetKey("log_error"); err == nil {
		cfg.LogError = key.MustString(cfg.LogError)
	}
	if key, err := section.GetKey("log_infos"); err == nil {
		cfg.LogInfos = key.MustString(cfg.LogInfos)
	}
	if key, err := section.GetKey("log_level"); err == nil {
		cfg.LogLevel = key.MustString(cfg.LogLevel)
	}
	return cfg
}
