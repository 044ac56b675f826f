package env

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sharedcode/exodb"
)

// propertiesFileName is the sidecar file name consulted when
// EnvironmentConfig.Source is ConfigFile.
const propertiesFileName = "exodus.properties"

// applyConfigSource loads cfg's options per cfg.Source: Ignore uses the
// defaults as-is, SystemProperty reads matching EXODB_* environment
// variables, File reads key=value pairs from exodus.properties at
// location. Unrecognized or malformed entries are skipped rather than
// failing environment open, matching the "ignore" spirit of the option
// itself when a source can't be read.
func applyConfigSource(location string, cfg exodb.EnvironmentConfig) exodb.EnvironmentConfig {
	switch cfg.Source {
	case exodb.ConfigSystemProperty:
		return applyEnvVars(cfg)
	case exodb.ConfigFile:
		props, err := readPropertiesFile(filepath.Join(location, propertiesFileName))
		if err != nil {
			return cfg
		}
		return applyProperties(cfg, props)
	default:
		return cfg
	}
}

func readPropertiesFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	props := map[string]string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		props[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return props, scanner.Err()
}

var propertyKeyToEnvVar = map[string]string{
	"maxInPlaceBlobSize":      "EXODB_MAX_IN_PLACE_BLOB_SIZE",
	"cachingDisabled":         "EXODB_CACHING_DISABLED",
	"storeGetCache.size":      "EXODB_STORE_GET_CACHE_SIZE",
	"treeNodesCache.size":     "EXODB_TREE_NODES_CACHE_SIZE",
	"transaction.timeout":     "EXODB_TRANSACTION_TIMEOUT",
	"readonlyEmptyStores":     "EXODB_READONLY_EMPTY_STORES",
	"readonly":                "EXODB_READONLY",
	"log.syncPeriod":          "EXODB_LOG_SYNC_PERIOD",
	"log.durableWrite":        "EXODB_LOG_DURABLE_WRITE",
	"managementEnabled":       "EXODB_MANAGEMENT_ENABLED",
}

func applyEnvVars(cfg exodb.EnvironmentConfig) exodb.EnvironmentConfig {
	props := map[string]string{}
	for key, envVar := range propertyKeyToEnvVar {
		if v, ok := os.LookupEnv(envVar); ok {
			props[key] = v
		}
	}
	return applyProperties(cfg, props)
}

// applyProperties mutates a copy of cfg with whichever recognized keys are
// present in props; unrecognized keys are ignored.
func applyProperties(cfg exodb.EnvironmentConfig, props map[string]string) exodb.EnvironmentConfig {
	if v, ok := props["maxInPlaceBlobSize"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxInPlaceBlobSize = n
		}
	}
	if v, ok := props["cachingDisabled"]; ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.CachingDisabled = b
		}
	}
	if v, ok := props["storeGetCache.size"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.StoreGetCacheSize = n
		}
	}
	if v, ok := props["treeNodesCache.size"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TreeNodesCacheSize = n
		}
	}
	if v, ok := props["transaction.timeout"]; ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.TransactionTimeout = d
		}
	}
	if v, ok := props["readonlyEmptyStores"]; ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.ReadonlyEmptyStores = b
		}
	}
	if v, ok := props["readonly"]; ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Readonly = b
		}
	}
	if v, ok := props["log.syncPeriod"]; ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SyncPeriod = d
		}
	}
	if v, ok := props["log.durableWrite"]; ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.DurableWrite = b
		}
	}
	if v, ok := props["managementEnabled"]; ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.ManagementEnabled = b
		}
	}
	return cfg
}
