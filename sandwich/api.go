package sandwich

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sandolabs/mega-sando/jsonrpcserver"
	"go.uber.org/zap"
)

var ErrUnauthorizedSigner = errors.New("signer is not allowed to submit sandwiches")

const (
	AddSandwichEndpointName = "sando_addSandwich"
	StatusEndpointName      = "sando_status"
)

type AddSandwichResponse struct {
	Generation hexutil.Uint64 `json:"generation"`
	Pending    int            `json:"pending"`
}

type StatusResponse struct {
	LatestBlock    hexutil.Uint64 `json:"latestBlock"`
	NextBlock      hexutil.Uint64 `json:"nextBlock"`
	NextTimestamp  hexutil.Uint64 `json:"nextTimestamp"`
	NextBaseFee    *hexutil.Big   `json:"nextBaseFee,omitempty"`
	Generation     hexutil.Uint64 `json:"generation"`
	Pending        int            `json:"pending"`
	Builds         hexutil.Uint64 `json:"builds"`
	LastBundleHash common.Hash    `json:"lastBundleHash"`
	WETHBalance    string         `json:"wethBalance"`
}

// API accepts sandwiches from detectors over JSON-RPC.
type API struct {
	log      *zap.Logger
	state    *BotState
	oracle   *BlockOracle
	pipeline *Pipeline
	allowed  map[common.Address]struct{}
}

// NewAPI creates the detector API. An empty allowlist accepts any signer.
func NewAPI(log *zap.Logger, state *BotState, oracle *BlockOracle, pipeline *Pipeline, allowedSigners []common.Address) *API {
	allowed := make(map[common.Address]struct{}, len(allowedSigners))
	for _, signer := range allowedSigners {
		allowed[signer] = struct{}{}
	}
	return &API{
		log:      log.Named("api"),
		state:    state,
		oracle:   oracle,
		pipeline: pipeline,
		allowed:  allowed,
	}
}

func (api *API) AddSandwich(ctx context.Context, sandwich PendingSandwich) (AddSandwichResponse, error) {
	signer := jsonrpcserver.GetSigner(ctx)
	if len(api.allowed) > 0 {
		if _, ok := api.allowed[signer]; !ok {
			return AddSandwichResponse{}, ErrUnauthorizedSigner
		}
	}

	if err := api.state.AddPending(sandwich); err != nil {
		api.log.Debug("Rejected sandwich", zap.String("id", sandwich.ID), zap.Error(err))
		return AddSandwichResponse{}, err
	}
	api.log.Debug("Added sandwich",
		zap.String("id", sandwich.ID),
		zap.String("signer", signer.Hex()),
		zap.String("origin", jsonrpcserver.GetOrigin(ctx)),
		zap.Int("legs", len(sandwich.Legs)),
	)
	return AddSandwichResponse{
		Generation: hexutil.Uint64(api.state.Generation()),
		Pending:    api.state.PendingCount(),
	}, nil
}

func (api *API) Status(ctx context.Context) (StatusResponse, error) {
	res := StatusResponse{
		Generation:  hexutil.Uint64(api.state.Generation()),
		Pending:     api.state.PendingCount(),
		WETHBalance: api.state.WETHBalance().Dec(),
	}
	if latest, ok := api.oracle.Latest(); ok {
		res.LatestBlock = hexutil.Uint64(latest.Number)
	}
	if next, ok := api.oracle.Next(); ok {
		res.NextBlock = hexutil.Uint64(next.Number)
		res.NextTimestamp = hexutil.Uint64(next.Timestamp)
		if next.BaseFee != nil {
			res.NextBaseFee = (*hexutil.Big)(next.BaseFee)
		}
	}
	if api.pipeline != nil {
		res.Builds = hexutil.Uint64(api.pipeline.Builds())
		res.LastBundleHash = api.pipeline.LastBundleHash()
	}
	return res, nil
}

func (api *API) Methods() jsonrpcserver.Methods {
	return jsonrpcserver.Methods{
		AddSandwichEndpointName: api.AddSandwich,
		StatusEndpointName:      api.Status,
	}
}
