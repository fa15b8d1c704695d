/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/stensrud/srpd/srp"
)

// ParseConfig reads srpd's YAML config via viper, validates it, and
// returns both the raw Config (for the bits main still needs directly,
// like the DB file and API address) and the srp.Config translated from
// its Srp section.
func ParseConfig(conf *Config) (srp.Config, error) {
	log.Printf("ParseConfig: loading configuration")

	viperDefaults()
	viper.SetConfigFile(DefaultCfgFile)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	} else {
		log.Printf("Could not load config %s, using built-in defaults: %v", DefaultCfgFile, err)
	}

	if err := viper.Unmarshal(conf); err != nil {
		log.Fatalf("ParseConfig: error unmarshalling config into struct: %v", err)
	}

	ValidateConfig(conf)

	srpCfg := srp.DefaultConfig()
	srpCfg.Domain = conf.Srp.Domain
	switch strings.ToLower(conf.Srp.AddressMode) {
	case "anycast":
		srpCfg.AddressMode = srp.Anycast
	default:
		srpCfg.AddressMode = srp.Unicast
	}
	srpCfg.AnycastSequenceNumber = conf.Srp.AnycastSeq
	srpCfg.Ttl = srp.TtlConfig{MinTtl: conf.Srp.MinTtl, MaxTtl: conf.Srp.MaxTtl}
	srpCfg.Lease = srp.LeaseConfig{
		MinLease:    conf.Srp.MinLease,
		MaxLease:    conf.Srp.MaxLease,
		MinKeyLease: conf.Srp.MinKeyLease,
		MaxKeyLease: conf.Srp.MaxKeyLease,
	}
	if conf.Srp.HandlerTimeout != 0 {
		srpCfg.HandlerTimeout = conf.Srp.HandlerTimeout
	}
	srpCfg.AutoEnable = conf.Srp.AutoEnable

	if err := srpCfg.Validate(); err != nil {
		log.Fatalf("ParseConfig: invalid srp configuration: %v", err)
	}

	return srpCfg, nil
}
