package usb

import (
	"errors"
	"testing"

	"github.com/google/gousb"
)

func TestSerialFromProduct(t *testing.T) {
	tests := []struct {
		product string
		want    string
	}{
		{"QUSB__BULK_CID:0402_SN:1A2B3C4D", "1A2B3C4D"},
		{"QUSB__BULK_SN:0000ABCD_CID:0402", "0000ABCD"},
		{"QUSB__BULK_SN:CAFE now", "CAFE"},
		{"QUSB__BULK", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.product, func(t *testing.T) {
			if got := serialFromProduct(tt.product); got != tt.want {
				t.Errorf("serialFromProduct(%q) = %q, want %q", tt.product, got, tt.want)
			}
		})
	}
}

func edlDesc(class, subclass gousb.Class, protocol gousb.Protocol, endpoints int) *gousb.DeviceDesc {
	eps := make(map[gousb.EndpointAddress]gousb.EndpointDesc)
	for i := 0; i < endpoints; i++ {
		addr := gousb.EndpointAddress(0x01 + i)
		eps[addr] = gousb.EndpointDesc{Address: addr, Number: 1 + i}
	}
	return &gousb.DeviceDesc{
		Vendor:  VendorID,
		Product: ProductID,
		Configs: map[int]gousb.ConfigDesc{
			1: {
				Number: 1,
				Interfaces: []gousb.InterfaceDesc{{
					Number: 0,
					AltSettings: []gousb.InterfaceSetting{{
						Number:    0,
						Alternate: 0,
						Class:     class,
						SubClass:  subclass,
						Protocol:  protocol,
						Endpoints: eps,
					}},
				}},
			},
		},
	}
}

func TestIsEDL(t *testing.T) {
	tests := []struct {
		name string
		desc *gousb.DeviceDesc
		want bool
	}{
		{"protocol ff", edlDesc(0xff, 0xff, 0xff, 2), true},
		{"protocol 10", edlDesc(0xff, 0xff, 0x10, 2), true},
		{"other protocol", edlDesc(0xff, 0xff, 0x01, 2), false},
		{"mass storage", edlDesc(0x08, 0x06, 0x50, 2), false},
		{"three endpoints", edlDesc(0xff, 0xff, 0xff, 3), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isEDL(tt.desc); got != tt.want {
				t.Errorf("isEDL() = %v, want %v", got, tt.want)
			}
		})
	}

	other := edlDesc(0xff, 0xff, 0xff, 2)
	other.Product = 0x900e
	if isEDL(other) {
		t.Error("isEDL() accepted a diagnostic-mode product id")
	}
}

func TestTakePending(t *testing.T) {
	d := &Device{pending: []byte("abcdef")}

	if got := string(d.takePending(4)); got != "abcd" {
		t.Errorf("first take = %q", got)
	}
	if got := string(d.takePending(4)); got != "ef" {
		t.Errorf("second take = %q", got)
	}
	if d.pending != nil {
		t.Errorf("pending = %q, want nil", d.pending)
	}
}

func TestErrorUnwrap(t *testing.T) {
	err := error(&Error{"Open", ErrNotFound})
	if !errors.Is(err, ErrNotFound) {
		t.Error("errors.Is(Error{ErrNotFound}, ErrNotFound) = false")
	}
	if err.Error() != "usb: Open: usb: no EDL device found" {
		t.Errorf("Error() = %q", err.Error())
	}
}
