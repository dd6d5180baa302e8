package ledger

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alfredjeanlab/consentd/internal/model"
)

// ConsentABI is the read-side interface of the consent contract.
const ConsentABI = `[
  {"type":"event","name":"ConsentGranted","anonymous":false,"inputs":[
    {"name":"consentId","type":"uint256","indexed":true},
    {"name":"patient","type":"address","indexed":true},
    {"name":"provider","type":"address","indexed":true},
    {"name":"dataTypes","type":"string[]","indexed":false},
    {"name":"purposes","type":"string[]","indexed":false},
    {"name":"expirationTime","type":"uint256","indexed":false},
    {"name":"timestamp","type":"uint256","indexed":false}]},
  {"type":"event","name":"ConsentRevoked","anonymous":false,"inputs":[
    {"name":"consentId","type":"uint256","indexed":true},
    {"name":"patient","type":"address","indexed":true},
    {"name":"timestamp","type":"uint256","indexed":false}]},
  {"type":"event","name":"AccessRequested","anonymous":false,"inputs":[
    {"name":"requestId","type":"uint256","indexed":true},
    {"name":"requester","type":"address","indexed":true},
    {"name":"patient","type":"address","indexed":true},
    {"name":"dataTypes","type":"string[]","indexed":false},
    {"name":"purposes","type":"string[]","indexed":false},
    {"name":"expirationTime","type":"uint256","indexed":false},
    {"name":"timestamp","type":"uint256","indexed":false}]},
  {"type":"event","name":"AccessApproved","anonymous":false,"inputs":[
    {"name":"requestId","type":"uint256","indexed":true},
    {"name":"patient","type":"address","indexed":true},
    {"name":"requester","type":"address","indexed":true},
    {"name":"consentId","type":"uint256","indexed":false},
    {"name":"timestamp","type":"uint256","indexed":false}]},
  {"type":"event","name":"AccessDenied","anonymous":false,"inputs":[
    {"name":"requestId","type":"uint256","indexed":true},
    {"name":"patient","type":"address","indexed":true},
    {"name":"requester","type":"address","indexed":true},
    {"name":"timestamp","type":"uint256","indexed":false}]},
  {"type":"function","name":"getConsentRecord","stateMutability":"view",
    "inputs":[{"name":"consentId","type":"uint256"}],
    "outputs":[
      {"name":"patient","type":"address"},
      {"name":"provider","type":"address"},
      {"name":"dataTypes","type":"string[]"},
      {"name":"purposes","type":"string[]"},
      {"name":"timestamp","type":"uint256"},
      {"name":"expirationTime","type":"uint256"},
      {"name":"isActive","type":"bool"}]},
  {"type":"function","name":"getAccessRequest","stateMutability":"view",
    "inputs":[{"name":"requestId","type":"uint256"}],
    "outputs":[
      {"name":"requester","type":"address"},
      {"name":"patient","type":"address"},
      {"name":"dataTypes","type":"string[]"},
      {"name":"purposes","type":"string[]"},
      {"name":"status","type":"uint8"},
      {"name":"expirationTime","type":"uint256"},
      {"name":"timestamp","type":"uint256"}]}
]`

const (
	methodConsentRecord = "getConsentRecord"
	methodAccessRequest = "getAccessRequest"
)

// ParseConsentABI parses ConsentABI.
func ParseConsentABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(ConsentABI))
}

// decoder turns raw ABI values into canonical model values. It collects the
// first decode failure so call sites can read several fields and check once.
type decoder struct {
	fields map[string]any
	err    error
}

func (d *decoder) fail(name string, v any, want string) {
	if d.err == nil {
		d.err = fmt.Errorf("field %q: got %T, want %s", name, v, want)
	}
}

func (d *decoder) address(name string) string {
	v, ok := d.fields[name].(common.Address)
	if !ok {
		d.fail(name, d.fields[name], "address")
		return ""
	}
	return strings.ToLower(v.Hex())
}

func (d *decoder) num(name string) uint64 {
	v, ok := d.fields[name].(*big.Int)
	if !ok || v == nil {
		d.fail(name, d.fields[name], "uint256")
		return 0
	}
	if !v.IsUint64() {
		if d.err == nil {
			d.err = fmt.Errorf("field %q: value %s overflows uint64", name, v)
		}
		return 0
	}
	return v.Uint64()
}

func (d *decoder) list(name string) []string {
	v, ok := d.fields[name].([]string)
	if !ok {
		d.fail(name, d.fields[name], "string[]")
		return nil
	}
	return v
}

func (d *decoder) instant(name string) time.Time {
	return unixTime(d.num(name))
}

// optionalTime decodes a unix timestamp where zero means unset.
func (d *decoder) optionalTime(name string) *time.Time {
	secs := d.num(name)
	if secs == 0 {
		return nil
	}
	t := unixTime(secs)
	return &t
}

func unixTime(secs uint64) time.Time {
	return time.Unix(int64(secs), 0).UTC()
}

// outputFields names positional method outputs so they can go through a decoder.
func outputFields(outputs abi.Arguments, values []any) (map[string]any, error) {
	if len(values) != len(outputs) {
		return nil, fmt.Errorf("got %d output values, want %d", len(values), len(outputs))
	}
	fields := make(map[string]any, len(values))
	for i, arg := range outputs {
		fields[arg.Name] = values[i]
	}
	return fields, nil
}

func indexedInputs(ev abi.Event) abi.Arguments {
	var out abi.Arguments
	for _, arg := range ev.Inputs {
		if arg.Indexed {
			out = append(out, arg)
		}
	}
	return out
}

// eventFromFields builds the canonical event for one decoded log.
func eventFromFields(t model.EventType, fields map[string]any) (model.Event, error) {
	d := &decoder{fields: fields}
	ev := model.Event{Type: t}
	switch t {
	case model.EventConsentGranted:
		ev.ConsentID = model.Uint64Ptr(d.num("consentId"))
		ev.Patient = d.address("patient")
		ev.Provider = d.address("provider")
		ev.DataTypes = d.list("dataTypes")
		ev.Purposes = d.list("purposes")
		ev.ExpirationTime = d.optionalTime("expirationTime")
	case model.EventConsentRevoked:
		ev.ConsentID = model.Uint64Ptr(d.num("consentId"))
		ev.Patient = d.address("patient")
	case model.EventAccessRequested:
		ev.RequestID = model.Uint64Ptr(d.num("requestId"))
		ev.Provider = d.address("requester")
		ev.Patient = d.address("patient")
		ev.DataTypes = d.list("dataTypes")
		ev.Purposes = d.list("purposes")
		ev.ExpirationTime = d.optionalTime("expirationTime")
	case model.EventAccessApproved:
		ev.RequestID = model.Uint64Ptr(d.num("requestId"))
		ev.Patient = d.address("patient")
		ev.Provider = d.address("requester")
		ev.ConsentID = model.Uint64Ptr(d.num("consentId"))
	case model.EventAccessDenied:
		ev.RequestID = model.Uint64Ptr(d.num("requestId"))
		ev.Patient = d.address("patient")
		ev.Provider = d.address("requester")
	default:
		return model.Event{}, fmt.Errorf("unsupported event type %q", t)
	}
	ev.Timestamp = d.instant("timestamp")
	return ev, d.err
}

func consentFromFields(id uint64, fields map[string]any) (*model.ConsentRecord, error) {
	d := &decoder{fields: fields}
	rec := &model.ConsentRecord{
		ID:             id,
		Patient:        d.address("patient"),
		Provider:       d.address("provider"),
		DataTypes:      d.list("dataTypes"),
		Purposes:       d.list("purposes"),
		Timestamp:      d.instant("timestamp"),
		ExpirationTime: d.optionalTime("expirationTime"),
	}
	active, ok := fields["isActive"].(bool)
	if !ok {
		d.fail("isActive", fields["isActive"], "bool")
	}
	rec.IsActive = active
	return rec, d.err
}

func requestFromFields(id uint64, fields map[string]any) (*model.AccessRequest, error) {
	d := &decoder{fields: fields}
	req := &model.AccessRequest{
		ID:             id,
		Requester:      d.address("requester"),
		Patient:        d.address("patient"),
		DataTypes:      d.list("dataTypes"),
		Purposes:       d.list("purposes"),
		ExpirationTime: d.optionalTime("expirationTime"),
		Timestamp:      d.instant("timestamp"),
	}
	code, ok := fields["status"].(uint8)
	if !ok {
		d.fail("status", fields["status"], "uint8")
	}
	if d.err != nil {
		return nil, d.err
	}
	status, err := model.RequestStatusFromCode(code)
	if err != nil {
		return nil, err
	}
	req.Status = status
	return req, nil
}

// isZeroAddress reports whether a decoded address is the zero address, which
// the contract returns for ids it has never allocated.
func isZeroAddress(addr string) bool {
	return addr == "" || common.HexToAddress(addr) == (common.Address{})
}
