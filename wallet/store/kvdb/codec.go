// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package kvdb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/spvwallet/wallet/store"
	"github.com/lightningnetwork/lnd/tlv"
)

const (
	// addrPubKeyType is the TLV type of the public key of an address
	// record.
	addrPubKeyType tlv.Type = 0

	txRawType       tlv.Type = 0
	txHeightType    tlv.Type = 1
	txOrderType     tlv.Type = 2
	txTimestampType tlv.Type = 3
)

const (
	addrKeyLen = 5
	utxoKeyLen = chainhash.HashSize + 4
)

// addrKey returns the bucket key of an address record: the branch followed
// by the big endian index, so cursor order matches derivation order.
func addrKey(internal bool, index uint32) []byte {
	var k [addrKeyLen]byte
	if internal {
		k[0] = 1
	}
	binary.BigEndian.PutUint32(k[1:], index)

	return k[:]
}

func encodeAddr(rec *store.AddressRecord) ([]byte, error) {
	pubKey := rec.PubKey

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(addrPubKeyType, &pubKey),
	)
	if err != nil {
		return nil, err
	}

	var b bytes.Buffer
	if err := stream.Encode(&b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

func decodeAddr(k, v []byte) (store.AddressRecord, error) {
	var rec store.AddressRecord
	if len(k) != addrKeyLen || k[0] > 1 {
		return rec, fmt.Errorf("%w: address key %x", store.ErrCorruptRecord,
			k)
	}

	rec.Internal = k[0] == 1
	rec.Index = binary.BigEndian.Uint32(k[1:])

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(addrPubKeyType, &rec.PubKey),
	)
	if err != nil {
		return rec, err
	}

	parsed, err := stream.DecodeWithParsedTypes(bytes.NewReader(v))
	if err != nil {
		return rec, fmt.Errorf("%w: address %x: %v",
			store.ErrCorruptRecord, k, err)
	}
	if _, ok := parsed[addrPubKeyType]; !ok {
		return rec, fmt.Errorf("%w: address %x has no public key",
			store.ErrCorruptRecord, k)
	}

	return rec, nil
}

// encodeTx serializes a transaction record. order is the position of the
// transaction in registration order. A zero timestamp is not written.
func encodeTx(rec *store.TxRecord, order uint64) ([]byte, error) {
	var (
		raw    = rec.RawTx
		height = uint32(rec.BlockHeight)
		stamp  uint64
	)

	records := []tlv.Record{
		tlv.MakePrimitiveRecord(txRawType, &raw),
		tlv.MakePrimitiveRecord(txHeightType, &height),
		tlv.MakePrimitiveRecord(txOrderType, &order),
	}
	if !rec.Timestamp.IsZero() {
		stamp = uint64(rec.Timestamp.UnixNano())
		records = append(records, tlv.MakePrimitiveRecord(
			txTimestampType, &stamp,
		))
	}

	stream, err := tlv.NewStream(records...)
	if err != nil {
		return nil, err
	}

	var b bytes.Buffer
	if err := stream.Encode(&b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// decodeTx deserializes a transaction record and returns it with its
// registration order.
func decodeTx(k, v []byte) (store.TxRecord, uint64, error) {
	var (
		rec    store.TxRecord
		raw    []byte
		height uint32
		order  uint64
		stamp  uint64
	)

	if len(k) != chainhash.HashSize {
		return rec, 0, fmt.Errorf("%w: transaction key %x",
			store.ErrCorruptRecord, k)
	}
	copy(rec.Hash[:], k)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(txRawType, &raw),
		tlv.MakePrimitiveRecord(txHeightType, &height),
		tlv.MakePrimitiveRecord(txOrderType, &order),
		tlv.MakePrimitiveRecord(txTimestampType, &stamp),
	)
	if err != nil {
		return rec, 0, err
	}

	parsed, err := stream.DecodeWithParsedTypes(bytes.NewReader(v))
	if err != nil {
		return rec, 0, fmt.Errorf("%w: transaction %v: %v",
			store.ErrCorruptRecord, rec.Hash, err)
	}

	for _, typ := range []tlv.Type{txRawType, txHeightType, txOrderType} {
		if _, ok := parsed[typ]; !ok {
			return rec, 0, fmt.Errorf("%w: transaction %v has no "+
				"type %d", store.ErrCorruptRecord, rec.Hash, typ)
		}
	}

	rec.RawTx = raw
	rec.BlockHeight = int32(height)
	if _, ok := parsed[txTimestampType]; ok {
		rec.Timestamp = time.Unix(0, int64(stamp))
	}

	return rec, order, nil
}

func utxoKey(op wire.OutPoint) []byte {
	k := make([]byte, utxoKeyLen)
	copy(k, op.Hash[:])
	binary.BigEndian.PutUint32(k[chainhash.HashSize:], op.Index)

	return k
}

func decodeUtxoKey(k []byte) (wire.OutPoint, error) {
	var op wire.OutPoint
	if len(k) != utxoKeyLen {
		return op, fmt.Errorf("%w: outpoint key %x", store.ErrCorruptRecord,
			k)
	}

	copy(op.Hash[:], k[:chainhash.HashSize])
	op.Index = binary.BigEndian.Uint32(k[chainhash.HashSize:])

	return op, nil
}
