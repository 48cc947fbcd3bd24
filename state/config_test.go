package state

import (
	"strings"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"

	"github.com/nibewire/nibewire/log2"
)

func TestReadConfig(t *testing.T) {
	t.Parallel()

	type Case struct {
		name      string
		input     string
		check     func(testing.TB, *Config)
		expectErr string
	}
	cases := []Case{
		{"empty", "", func(t testing.TB, c *Config) {
			assert.Equal(t, "", c.Nibe.Host)
			assert.Equal(t, 0, c.Nibe.PortListen) // defaults apply at Dial
		}, ""},

		{"nibe",
			`nibe { host = "192.0.2.1" listen_port = 9999 write_port = 10001 adopt_peer = true }`,
			func(t testing.TB, c *Config) {
				assert.Equal(t, "192.0.2.1", c.Nibe.Host)
				assert.Equal(t, 10001, c.Nibe.PortWrite)
				assert.True(t, c.Nibe.AdoptPeer)
			},
			"",
		},

		{"monitor",
			`monitor { registers = [40004, 43009] interval_sec = 5 timeout_sec = 2 }`,
			func(t testing.TB, c *Config) {
				assert.Equal(t, []int{40004, 43009}, c.Monitor.Registers)
				assert.Equal(t, 5, c.Monitor.IntervalSec)
			},
			"",
		},

		{"tele",
			`tele { enable = true mqtt_broker = "tcp://broker:1883" topic_prefix = "pump1" }`,
			func(t testing.TB, c *Config) {
				assert.True(t, c.Tele.Enabled)
				assert.Equal(t, "tcp://broker:1883", c.Tele.MqttBroker)
				assert.Equal(t, "pump1", c.Tele.TopicPrefix)
			},
			"",
		},

		{"include-normalize", `
nibe { host = "x" }
include "./empty" {}`,
			nil, ""},

		{"include-optional", `
include "host-y" {}
include "non-exist" { optional = true }`,
			func(t testing.TB, c *Config) {
				assert.Equal(t, "y", c.Nibe.Host)
			}, ""},

		{"include-overwrites", `
nibe { host = "x" }
include "host-y" {}`,
			func(t testing.TB, c *Config) {
				assert.Equal(t, "y", c.Nibe.Host)
			}, ""},

		{"error-syntax", `hello`, nil, "key 'hello' expected start of object"},
		{"error-include-loop", `include "include-loop" {}`, nil, "config include loop: from=include-loop include=include-loop"},
		{"error-missing-include", `include "non-exist" {}`, nil, "config required name=non-exist"},
	}
	mkCheck := func(c Case) func(*testing.T) {
		return func(t *testing.T) {
			log := log2.NewTest(t, log2.LDebug)
			fs := NewMockFullReader(map[string]string{
				"test-inline":  c.input,
				"empty":        "",
				"host-y":       `nibe{host="y"}`,
				"include-loop": `include "include-loop" {}`,
			})
			cfg, err := ReadConfig(log, fs, "test-inline")
			if c.expectErr == "" {
				if err != nil {
					t.Fatalf("error expected=nil actual='%v'", errors.ErrorStack(err))
				}
				if c.check != nil {
					c.check(t, cfg)
				}
			} else {
				if err == nil || !strings.Contains(err.Error(), c.expectErr) {
					t.Fatalf("error expected='%s' actual='%v'", c.expectErr, err)
				}
			}
		}
	}
	for _, c := range cases {
		t.Run(c.name, mkCheck(c))
	}
}
