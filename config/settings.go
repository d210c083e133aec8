package config

import (
	"os"
	"path/filepath"
	"strings"
)

// Data file locations.
//
// Set via env:
// - RECHU_DATA_PATH=.                          base directory of all YAML files
// - RECHU_DATA_PATTERN=**/*.yml                receipt glob, relative to the data path
// - RECHU_DATA_PRODUCTS=products-{shop}.yml    inventory path format
// - RECHU_DATA_SHOPS=shops.yml                 shops file
// - RECHU_DATA_FORMAT={filename}               receipt path format used by dump
func DataPath() string {
	return envOrDefault("RECHU_DATA_PATH", ".")
}

func DataPattern() string {
	return envOrDefault("RECHU_DATA_PATTERN", "*.yml")
}

func ProductsFormat() string {
	return envOrDefault("RECHU_DATA_PRODUCTS", "products-{shop}.yml")
}

func ShopsFile() string {
	return filepath.Join(DataPath(), envOrDefault("RECHU_DATA_SHOPS", "shops.yml"))
}

func ReceiptFormat() string {
	return envOrDefault("RECHU_DATA_FORMAT", "{filename}")
}

// InventoryPath fills the products format for one inventory scope.
// Missing category or type placeholders collapse together with their separator.
func InventoryPath(shop string, category string, typ string) string {
	path := ProductsFormat()
	path = strings.ReplaceAll(path, "{shop}", shop)
	path = replacePlaceholder(path, "{category}", category)
	path = replacePlaceholder(path, "{type}", typ)
	return filepath.Join(DataPath(), path)
}

// InventorySplit reports whether inventory files are split by category and by type.
func InventorySplit() (bool, bool) {
	format := ProductsFormat()
	return strings.Contains(format, "{category}"), strings.Contains(format, "{type}")
}

// InventoryGlobs returns the patterns that match every inventory file of the products format,
// including files whose category or type placeholder collapsed away.
func InventoryGlobs() []string {
	byCategory, byType := InventorySplit()
	base := strings.ReplaceAll(ProductsFormat(), "{shop}", "*")
	var globs []string
	seen := map[string]bool{}
	for _, category := range optionalWildcard(byCategory) {
		for _, typ := range optionalWildcard(byType) {
			path := replacePlaceholder(base, "{category}", category)
			path = replacePlaceholder(path, "{type}", typ)
			path = filepath.Join(DataPath(), path)
			if !seen[path] {
				seen[path] = true
				globs = append(globs, path)
			}
		}
	}
	return globs
}

func optionalWildcard(split bool) []string {
	if split {
		return []string{"*", ""}
	}
	return []string{""}
}

// ReceiptPath fills the receipt format for a derived filename.
func ReceiptPath(filename string, shop string) string {
	path := ReceiptFormat()
	path = strings.ReplaceAll(path, "{filename}", filename)
	path = strings.ReplaceAll(path, "{shop}", shop)
	return filepath.Join(DataPath(), path)
}

// RedisEnabled reports whether scope locks should go through Redis.
func RedisEnabled() bool {
	return strings.TrimSpace(os.Getenv("REDIS_ADDRESS")) != ""
}

func replacePlaceholder(path string, placeholder string, value string) string {
	if value != "" {
		return strings.ReplaceAll(path, placeholder, value)
	}
	for _, sep := range []string{"-", "_", "/"} {
		path = strings.ReplaceAll(path, sep+placeholder, "")
	}
	return strings.ReplaceAll(path, placeholder, "")
}

func envOrDefault(key string, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}
