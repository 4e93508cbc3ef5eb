package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/computor-tools/qubic-go/identity"
)

const testSeed = "vmscmtbcqjbqyqcckegsfdsrcgjpeejobolmimgorsqwgupzhkevreu"

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Seed = testSeed
	cfg.Peers = []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}
	cfg.AdminPublicKey = strings.ToUpper(identity.BytesToShiftedHex(make([]byte, 31)) + "ab")
	return cfg
}

func TestValidate(t *testing.T) {
	t.Parallel()
	r := require.New(t)

	r.NoError(validConfig().Validate())

	cfg := validConfig()
	cfg.Seed = strings.ToUpper(testSeed)
	r.Error(cfg.Validate())

	cfg = validConfig()
	cfg.Peers = cfg.Peers[:2]
	r.Error(cfg.Validate())

	cfg = validConfig()
	cfg.Peers = append(cfg.Peers[:2], "")
	r.Error(cfg.Validate())

	cfg = validConfig()
	cfg.ConnectionTimeout = 0
	r.Error(cfg.Validate())

	cfg = validConfig()
	cfg.StatusRequestSpacing = 0
	r.Error(cfg.Validate())
}

func TestAdminKey(t *testing.T) {
	t.Parallel()
	r := require.New(t)

	key, err := validConfig().AdminKey()
	r.NoError(err)
	r.Len(key, 32)
	r.Equal(byte(0x01), key[31])

	cfg := validConfig()
	cfg.AdminPublicKey = strings.ToUpper(identity.BytesToShiftedHex(make([]byte, 32)))
	_, err = cfg.AdminKey()
	r.Error(err)

	cfg.AdminPublicKey = "not a key"
	_, err = cfg.AdminKey()
	r.Error(err)

	cfg.AdminPublicKey = strings.ToUpper(identity.BytesToShiftedHex(make([]byte, 16)))
	_, err = cfg.AdminKey()
	r.Error(err)
}
