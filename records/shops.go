package records

import (
	"bytes"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// ShopRecord is one entry of the shops file.
type ShopRecord struct {
	Key                string   `yaml:"key" validate:"required"`
	Name               string   `yaml:"name,omitempty"`
	Website            string   `yaml:"website,omitempty" validate:"omitempty,url"`
	Wikidata           string   `yaml:"wikidata,omitempty" validate:"omitempty,startswith=Q"`
	Products           string   `yaml:"products,omitempty" validate:"omitempty,url"`
	DiscountIndicators []string `yaml:"discount_indicators,omitempty"`
}

func ReadShops(path string) ([]ShopRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseShops(bytes.NewReader(data), path)
}

func ParseShops(in io.Reader, path string) ([]ShopRecord, error) {
	var shops []ShopRecord
	if err := yaml.NewDecoder(in).Decode(&shops); err != nil && err != io.EOF {
		return nil, invalid(path, "", "%v", err)
	}
	if err := ValidateShops(path, shops); err != nil {
		return nil, err
	}
	return shops, nil
}

func WriteShops(path string, shops []ShopRecord) error {
	var buf bytes.Buffer
	if err := EncodeShops(&buf, shops); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func EncodeShops(w io.Writer, shops []ShopRecord) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(shops); err != nil {
		return err
	}
	return enc.Close()
}
