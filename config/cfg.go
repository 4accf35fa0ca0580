package config

import (
	"bytes"
	_ "embed"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	validator "github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	yaml "gopkg.in/yaml.v3"

	"github.com/rupor-github/gencfg"

	"sdst/pack"
	"sdst/xxtea"
)

//go:embed config.yaml.tmpl
var ConfigTmpl []byte

type (
	PackConfig struct {
		// Key is hex encoded cipher key, empty means appliance common key.
		Key             string `yaml:"key,omitempty" validate:"omitempty,len=32,hexadecimal"`
		RepairCleartext bool   `yaml:"repair_cleartext"`
		ImageMIME       string `yaml:"image_mime" validate:"required"`
		AudioMIME       string `yaml:"audio_mime" validate:"required"`
		// PathCharset is IANA name of asset path encoding, empty means UTF-8.
		PathCharset string `yaml:"path_charset,omitempty"`
	}

	ImagesConfig struct {
		Format      string  `yaml:"format" validate:"oneof=bmp png jpeg"`
		ScaleFactor float64 `yaml:"scale_factor" validate:"gte=0.0"`
		JPEGQuality int     `yaml:"jpeg_quality" validate:"min=40,max=100"`
		Grayscale   bool    `yaml:"grayscale"`
	}

	ExtractConfig struct {
		Images   ImagesConfig `yaml:"images"`
		AudioExt string       `yaml:"audio_ext,omitempty" validate:"omitempty,startswith=."`
	}

	Config struct {
		Version   int            `yaml:"version" validate:"eq=1"`
		Pack      PackConfig     `yaml:"pack"`
		Extract   ExtractConfig  `yaml:"extract"`
		Logging   LoggingConfig  `yaml:"logging"`
		Reporting ReporterConfig `yaml:"reporting"`
	}
)

// CipherKey returns key to be used for protected pack resources.
func (conf *PackConfig) CipherKey() (xxtea.Key, error) {
	if len(conf.Key) == 0 {
		return xxtea.CommonKey, nil
	}
	b, err := hex.DecodeString(conf.Key)
	if err != nil {
		return xxtea.Key{}, fmt.Errorf("bad cipher key: %w", err)
	}
	key, err := xxtea.KeyFromBytes(b)
	if err != nil {
		return xxtea.Key{}, fmt.Errorf("bad cipher key: %w", err)
	}
	return key, nil
}

// PathEncoding returns decoder for asset paths or nil when paths are UTF-8.
func (conf *PackConfig) PathEncoding() (encoding.Encoding, error) {
	name := strings.TrimSpace(conf.PathCharset)
	if len(name) == 0 || strings.EqualFold(name, "utf-8") || strings.EqualFold(name, "utf8") {
		return nil, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, fmt.Errorf("unknown path charset %q: %w", name, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("unsupported path charset %q", name)
	}
	return enc, nil
}

// ReaderOptions translates configuration to pack reader options.
func (conf *PackConfig) ReaderOptions(log *zap.Logger) ([]pack.Option, error) {
	key, err := conf.CipherKey()
	if err != nil {
		return nil, err
	}
	enc, err := conf.PathEncoding()
	if err != nil {
		return nil, err
	}
	opts := []pack.Option{
		pack.WithKey(key),
		pack.WithRepair(conf.RepairCleartext),
		pack.WithMIMETypes(conf.ImageMIME, conf.AudioMIME),
		pack.WithLogger(log),
	}
	if enc != nil {
		opts = append(opts, pack.WithPathEncoding(enc))
	}
	return opts, nil
}

// checkConfig validates what could not be expressed with tags.
func checkConfig(sl validator.StructLevel) {
	cfg := sl.Current().Interface().(Config)
	if _, err := cfg.Pack.CipherKey(); err != nil {
		sl.ReportError(cfg.Pack.Key, "Key", "key", "cipher_key", "")
	}
	if _, err := cfg.Pack.PathEncoding(); err != nil {
		sl.ReportError(cfg.Pack.PathCharset, "PathCharset", "path_charset", "charset", "")
	}
}

func unmarshalConfig(data []byte, cfg *Config, process bool) (*Config, error) {
	// We want to use only fields we defined so we cannot use yaml.Unmarshal
	// directly here
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration data: %w", err)
	}
	if process {
		if err := gencfg.Sanitize(cfg); err != nil {
			return nil, fmt.Errorf("failed to sanitize configuration: %w", err)
		}
		if err := gencfg.Validate(cfg, gencfg.WithAdditionalChecks(checkConfig)); err != nil {
			return nil, fmt.Errorf("failed to validate configuration: %w", err)
		}
	}
	return cfg, nil
}

// LoadConfiguration reads the configuration from the file at the given path,
// superimposes its values on top of expanded configuration template to provide
// sane defaults and performs validation.
func LoadConfiguration(path string, options ...func(*gencfg.ProcessingOptions)) (*Config, error) {
	haveFile := len(path) > 0

	data, err := gencfg.Process(ConfigTmpl, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration template: %w", err)
	}
	cfg, err := unmarshalConfig(data, &Config{}, !haveFile)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration template: %w", err)
	}
	if !haveFile {
		return cfg, nil
	}

	// overwrite cfg values with values from the file
	data, err = os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err = unmarshalConfig(data, cfg, haveFile)
	if err != nil {
		return nil, fmt.Errorf("failed to process configuration file: %w", err)
	}
	return cfg, nil
}

// Prepare generates configuration file from template and returns it as a byte
// slice.
func Prepare() ([]byte, error) {
	return gencfg.Process(ConfigTmpl)
}

func Dump(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(*cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config to yaml: %w", err)
	}
	return data, nil
}
