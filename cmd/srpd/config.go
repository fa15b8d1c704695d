/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package main

import (
	"log"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the on-disk (YAML, via viper) configuration for srpd. It is
// unmarshalled once at startup, validated, and then translated into the
// srp.Config the Server actually runs with; nothing in srp/ knows about
// viper or YAML.
type Config struct {
	Service   ServiceConf
	Srp       SrpConf
	DnsEngine DnsEngineConf
	Apiserver ApiserverConf
	Db        DbConf
	Log       LogConf
	Internal  InternalConf
}

type ServiceConf struct {
	Name    string `validate:"required"`
	Debug   bool
	Verbose bool
}

// SrpConf mirrors srp.Config's fields in their YAML-friendly form.
type SrpConf struct {
	Domain         string `validate:"required"`
	AddressMode    string `validate:"required,oneof=unicast anycast"`
	AnycastSeq     uint8
	MinTtl         uint32 `validate:"required"`
	MaxTtl         uint32 `validate:"required"`
	MinLease       uint32 `validate:"required"`
	MaxLease       uint32 `validate:"required"`
	MinKeyLease    uint32 `validate:"required"`
	MaxKeyLease    uint32 `validate:"required"`
	HandlerTimeout uint32
	AutoEnable     bool
}

type DnsEngineConf struct {
	Addresses []string `validate:"required"`
}

type ApiserverConf struct {
	Address string `validate:"required"`
	Key     string `validate:"required"`
}

type DbConf struct {
	File string `validate:"required"`
}

type LogConf struct {
	File string
}

// InternalConf holds runtime wiring that has no business being in a YAML
// file: channels and handles built once in main and threaded through to
// the engines that need them.
type InternalConf struct {
	APIStopCh chan struct{}
}

// ValidateConfig checks the struct tags on every top-level section,
// matching the teacher's per-section validator.v10 pattern.
func ValidateConfig(conf *Config) error {
	sections := map[string]interface{}{
		"service":   conf.Service,
		"srp":       conf.Srp,
		"dnsengine": conf.DnsEngine,
		"apiserver": conf.Apiserver,
		"db":        conf.Db,
	}
	validate := validator.New()
	for name, data := range sections {
		if err := validate.Struct(data); err != nil {
			log.Fatalf("Config section %q is missing required attributes:\n%v", name, err)
		}
	}
	return nil
}

const DefaultCfgFile = "/etc/srpd/srpd.yaml"

func viperDefaults() {
	viper.SetDefault("srp.addressmode", "unicast")
	viper.SetDefault("srp.minttl", 30)
	viper.SetDefault("srp.handlertimeout", 5)
	viper.SetDefault("dnsengine.addresses", []string{"127.0.0.1:53535"})
	viper.SetDefault("apiserver.address", "127.0.0.1:8053")
	viper.SetDefault("db.file", "/var/lib/srpd/audit.db")
}
