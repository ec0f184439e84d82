package config

// Embedded configuration, keyed by device ID (the value main places in ctx
// under CtxDeviceKey). Raw JSON strings live in flash, not RAM.
//
// The soilprobe defaults target a Chirp probe at the factory address 0x20
// on i2c1. The calibration bounds 240/750 are the reference probe's; run
// cmd/soil-probe against dry and submerged soil to find a unit's own.

const cfgSoilProbe = `{
  "hal": {
    "devices": [
      {
        "id": "soil0",
        "type": "chirp",
        "bus_ref": {"type": "i2c", "id": "i2c1"},
        "params": {
          "addr": 32,
          "cal_min": 240,
          "cal_max": 750,
          "scale": "celsius",
          "channels": ["moisture", "temperature", "light"],
          "poll_ms": 10,
          "sample_every_ms": 2000
        }
      }
    ]
  },
  "heartbeat": {
    "interval": 2
  },
  "bridge": {
    "transport": {
      "type": "uart",
      "uart": {"port": 0, "baud": 115200, "rx_pin": 1, "tx_pin": 0}
    }
  }
}`

var embeddedConfigs = map[string][]byte{
	"soilprobe": []byte(cfgSoilProbe),
}
