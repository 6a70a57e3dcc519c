package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/rapidfund/settlement-service/internal/domain"
	"github.com/rapidfund/settlement-service/pkg/evmrpc"
)

// EVMProvider drives an EIP-1193 style signer over JSON-RPC.
type EVMProvider struct {
	client *evmrpc.Client
}

func NewEVMProvider(client *evmrpc.Client) *EVMProvider {
	return &EVMProvider{client: client}
}

func (p *EVMProvider) Family() domain.ChainFamily {
	return domain.ChainEVM
}

func (p *EVMProvider) Detected() bool {
	return p.client != nil && p.client.Endpoint() != ""
}

func (p *EVMProvider) RequestAccounts(ctx context.Context) ([]string, error) {
	accounts, err := p.client.RequestAccounts(ctx)
	if err != nil {
		return nil, mapEVMConnectError(err)
	}
	return accounts, nil
}

func (p *EVMProvider) Accounts(ctx context.Context) ([]string, error) {
	accounts, err := p.client.Accounts(ctx)
	if err != nil {
		return nil, mapEVMConnectError(err)
	}
	return accounts, nil
}

func (p *EVMProvider) Send(ctx context.Context, req SendRequest) (string, error) {
	tx := evmrpc.TxRequest{From: req.From}
	if req.Asset.IsNative() {
		tx.To = req.To
		tx.Value = evmrpc.EncodeQuantity(req.Atomic)
	} else {
		data, err := evmrpc.TransferCalldata(req.To, req.Atomic)
		if err != nil {
			return "", fmt.Errorf("%w: %v", domain.ErrInvalidDestination, err)
		}
		tx.To = req.Asset.ContractAddress
		tx.Value = "0x0"
		tx.Data = data
	}

	hash, err := p.client.SendTransaction(ctx, tx)
	if err != nil {
		return "", mapEVMSendError(err)
	}
	return hash, nil
}

func (p *EVMProvider) Balance(ctx context.Context, owner string, asset domain.Asset) (*big.Int, error) {
	var raw string
	var err error
	if asset.IsNative() {
		raw, err = p.client.GetBalance(ctx, owner)
	} else {
		var data string
		data, err = evmrpc.BalanceOfCalldata(owner)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidDestination, err)
		}
		raw, err = p.client.EthCall(ctx, asset.ContractAddress, data)
	}
	if err != nil {
		return nil, mapEVMReadError(err)
	}
	return evmrpc.ParseQuantity(raw)
}

func (p *EVMProvider) LookupTransfer(ctx context.Context, proof string, asset domain.Asset) (*ObservedTransfer, error) {
	tx, err := p.client.TransactionByHash(ctx, proof)
	if err != nil {
		return nil, mapEVMReadError(err)
	}
	if tx == nil || tx.To == nil {
		return nil, ErrTransferNotFound
	}

	observed := &ObservedTransfer{Proof: proof, From: tx.From, Pending: tx.BlockNumber == nil}
	if !observed.Pending {
		receipt, err := p.client.TransactionReceipt(ctx, proof)
		if err != nil {
			return nil, mapEVMReadError(err)
		}
		if receipt == nil {
			observed.Pending = true
		} else if receipt.Reverted() {
			return nil, fmt.Errorf("%w: transaction %s reverted", domain.ErrUnverifiedSettlement, proof)
		}
	}
	if asset.IsNative() {
		value, err := evmrpc.ParseQuantity(tx.Value)
		if err != nil {
			return nil, err
		}
		observed.To = *tx.To
		observed.Atomic = value
		return observed, nil
	}

	if !evmrpc.SameAddress(*tx.To, asset.ContractAddress) {
		return nil, fmt.Errorf("%w: transaction targets %s, not the %s contract", domain.ErrUnverifiedSettlement, *tx.To, asset.Symbol)
	}
	to, amount, ok := evmrpc.DecodeTransferCalldata(tx.Input)
	if !ok {
		return nil, fmt.Errorf("%w: transaction is not a %s transfer", domain.ErrUnverifiedSettlement, asset.Symbol)
	}
	observed.To = to
	observed.Atomic = amount
	return observed, nil
}

func mapEVMConnectError(err error) error {
	var rpcErr *evmrpc.RPCError
	if errors.As(err, &rpcErr) {
		switch rpcErr.Code {
		case evmrpc.CodeUserRejected, evmrpc.CodeUnauthorized:
			return fmt.Errorf("%w: %s", domain.ErrUserRejected, rpcErr.Message)
		case evmrpc.CodeDisconnected, evmrpc.CodeMethodNotFound, evmrpc.CodeUnsupported:
			return fmt.Errorf("%w: %s", domain.ErrProviderUnavailable, rpcErr.Message)
		}
		return err
	}
	var transportErr *evmrpc.TransportError
	if errors.As(err, &transportErr) {
		return fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	return err
}

func mapEVMSendError(err error) error {
	var rpcErr *evmrpc.RPCError
	if errors.As(err, &rpcErr) {
		msg := strings.ToLower(rpcErr.Message)
		switch {
		case rpcErr.Code == evmrpc.CodeUserRejected:
			return fmt.Errorf("%w: %s", domain.ErrUserRejected, rpcErr.Message)
		case rpcErr.Code == evmrpc.CodeUnauthorized:
			return fmt.Errorf("%w: %s", domain.ErrSessionNotConnected, rpcErr.Message)
		case strings.Contains(msg, "insufficient funds"), strings.Contains(msg, "exceeds balance"):
			return fmt.Errorf("%w: %s", domain.ErrInsufficientFunds, rpcErr.Message)
		}
		return err
	}
	var transportErr *evmrpc.TransportError
	if errors.As(err, &transportErr) {
		return fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}
	return err
}

func mapEVMReadError(err error) error {
	var transportErr *evmrpc.TransportError
	if errors.As(err, &transportErr) {
		return fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}
	return err
}
