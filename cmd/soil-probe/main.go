// cmd/soil-probe/main.go
//
// Interactive host-side tool for one Chirp probe on a Linux I2C adapter:
// prints a reading every second until interrupted, or moves the probe to a
// new bus address with "set".
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"soilcode-go/drivers/chirp"
)

// Calibration bounds for the percent column. Adjust for the individual
// probe, or the percentage will drift below 0% and above 100%.
const (
	calMin = 240
	calMax = 750
)

func usage() {
	prog := os.Args[0]
	fmt.Printf("Usage:\n\n")
	fmt.Printf("%s [-bus N] <address> [set <new address>]\n\n", prog)
	fmt.Printf("Examples:\n\n")
	fmt.Printf("Run continuous measurements.\n")
	fmt.Printf("%s 0x20\n\n", prog)
	fmt.Printf("Change the I2C address of the sensor on address 0x20 to 0x21\n")
	fmt.Printf("%s 0x20 set 0x21\n", prog)
	os.Exit(2)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "soil-probe:", err)
	os.Exit(1)
}

// parseAddr accepts 0x-prefixed hex or plain decimal.
func parseAddr(s string) (uint16, bool) {
	var v uint64
	var err error
	if strings.HasPrefix(s, "0x") {
		v, err = strconv.ParseUint(s[2:], 16, 16)
	} else {
		v, err = strconv.ParseUint(s, 10, 16)
	}
	if err != nil {
		return 0, false
	}
	return uint16(v), true
}

func main() {
	busName := flag.String("bus", "1", "I2C bus (periph name; \"1\" opens /dev/i2c-1)")
	flag.Parse()
	args := flag.Args()

	if len(args) == 0 || len(args) > 3 {
		usage()
	}
	// The probe address is conventionally written in hex; require it.
	if !strings.HasPrefix(args[0], "0x") {
		usage()
	}
	addr, ok := parseAddr(args[0])
	if !ok {
		usage()
	}

	if _, err := host.Init(); err != nil {
		fatal(err)
	}
	bus, err := i2creg.Open(*busName)
	if err != nil {
		fatal(err)
	}
	defer bus.Close()

	dev, err := chirp.New(bus, chirp.Config{
		Address:     addr,
		Calibration: chirp.Calibration{Min: calMin, Max: calMax},
	})
	if err != nil {
		fatal(err)
	}

	if len(args) >= 2 {
		if args[1] != "set" || len(args) != 3 {
			usage()
		}
		newAddr, ok := parseAddr(args[2])
		if !ok {
			usage()
		}
		// Also resets the probe.
		if err := dev.SetAddress(newAddr); err != nil {
			fatal(err)
		}
		fmt.Printf("Chirp I2C address changed to %#x\n", newAddr)
		return
	}

	version, err := dev.FirmwareVersion()
	if err != nil {
		fatal(err)
	}
	sensorAddr, err := dev.ReadAddress()
	if err != nil {
		fatal(err)
	}

	fmt.Printf("Chirp soil moisture sensor.\n\n")
	fmt.Printf("Firmware version:   %#x\n", version)
	fmt.Printf("I2C address:        %d\n\n", sensorAddr)
	fmt.Printf("Press Ctrl-C to exit.\n\n")
	fmt.Println("Moisture  | Temp   | Brightness")
	fmt.Println(strings.Repeat("-", 31))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var lowest, highest uint16
	haveReading := false

	tick := time.NewTicker(time.Second)
	defer tick.Stop()

	for running := true; running; {
		s, err := dev.ReadAllEnabled(ctx)
		switch {
		case ctx.Err() != nil:
			running = false
			continue
		case err != nil:
			fmt.Printf("read failed: %v\n", err)
		default:
			pct, _ := dev.MoistToPercent(s.Moisture)
			fmt.Printf("%d %4.1f%% | %3.1f°C | %d\n",
				s.Moisture, pct, float64(s.DeciC)/10, s.Light)
			if !haveReading || s.Moisture < lowest {
				lowest = s.Moisture
			}
			if !haveReading || s.Moisture > highest {
				highest = s.Moisture
			}
			haveReading = true
		}

		select {
		case <-ctx.Done():
			running = false
		case <-tick.C:
		}
	}

	fmt.Printf("\nCtrl-C Pressed! Exiting.\n\n")
	if haveReading {
		fmt.Printf("Lowest moisture measured:  %d\n", lowest)
		fmt.Printf("Highest moisture measured: %d\n", highest)
	}
	fmt.Println("Bye!")
}
