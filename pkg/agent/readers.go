/*
 * Copyright 2025 Verdant Operations, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package agent

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/verdantops/soilwatch/pkg/models"
)

// SimulatedReader produces a slow random walk per channel, for running
// the agent without probe hardware attached.
type SimulatedReader struct {
	mu     sync.Mutex
	values map[int]int
	rand   *rand.Rand
}

// NewSimulatedReader seeds each channel at mid scale.
func NewSimulatedReader(seed int64) *SimulatedReader {
	return &SimulatedReader{
		values: make(map[int]int),
		rand:   rand.New(rand.NewSource(seed)),
	}
}

// ReadChannel drifts the channel value by up to ±15 counts per sample.
func (r *SimulatedReader) ReadChannel(_ context.Context, channel int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	value, ok := r.values[channel]
	if !ok {
		value = models.ADCMaxValue / 2
	}

	value += r.rand.Intn(31) - 15

	if value < 0 {
		value = 0
	} else if value > models.ADCMaxValue {
		value = models.ADCMaxValue
	}

	r.values[channel] = value

	return value, nil
}

// defaultIIODevicePath is where the kernel IIO subsystem exposes the
// ADC voltage channels on the Pi hats we deploy on.
const defaultIIODevicePath = "/sys/bus/iio/devices/iio:device0"

// IIOReader reads raw ADC values from the Linux IIO sysfs interface
// (in_voltageN_raw files).
type IIOReader struct {
	devicePath string
}

// NewIIOReader uses devicePath, or the default IIO device when empty.
func NewIIOReader(devicePath string) *IIOReader {
	if devicePath == "" {
		devicePath = defaultIIODevicePath
	}

	return &IIOReader{devicePath: devicePath}
}

func (r *IIOReader) ReadChannel(_ context.Context, channel int) (int, error) {
	path := fmt.Sprintf("%s/in_voltage%d_raw", r.devicePath, channel)

	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read ADC channel %d: %w", channel, err)
	}

	value, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, fmt.Errorf("failed to parse ADC channel %d value: %w", channel, err)
	}

	return value, nil
}
