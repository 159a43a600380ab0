package assemble

import (
	"strconv"
	"strings"
)

// vpuCfg names one of the three vector widths VADDPS (and its family)
// accepts, matching execVaddps's "16 << (cfg & 0x3)" decode.
type vpuCfg struct {
	index int
	cfg   byte
}

func lookupVPURegister(name string) (vpuCfg, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	var prefix string
	var cfg byte
	switch {
	case strings.HasPrefix(name, "xmm"):
		prefix, cfg = "xmm", 0
	case strings.HasPrefix(name, "ymm"):
		prefix, cfg = "ymm", 1
	case strings.HasPrefix(name, "zmm"):
		prefix, cfg = "zmm", 2
	default:
		return vpuCfg{}, false
	}
	n, err := strconv.Atoi(name[len(prefix):])
	if err != nil || n < 0 || n > 31 {
		return vpuCfg{}, false
	}
	return vpuCfg{index: n, cfg: cfg}, true
}
