package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xela07ax/chainvault-custody/internal/domain"
)

// Метод signer-сидекара. Контракт договорной: запрос и ответ — structpb.Struct,
// поэтому обходимся без кодогенерации на стороне шлюза.
const signerExecuteMethod = "/chainvault.signer.v1.SignerService/Execute"

// GRPCSigner ходит в signer-сервис (KMS + broadcast) по gRPC.
type GRPCSigner struct {
	conn *grpc.ClientConn
}

func NewGRPCSigner(conn *grpc.ClientConn) *GRPCSigner {
	return &GRPCSigner{conn: conn}
}

// ExecuteOnChain реализует интерфейс ExecutionProvider.
func (s *GRPCSigner) ExecuteOnChain(ctx context.Context, keyRef string, action domain.ProposedAction) (*ExecutionResult, error) {
	// 1. Конвертируем действие в protobuf Struct через JSON-промежуток
	actionJSON, err := json.Marshal(action)
	if err != nil {
		return nil, fmt.Errorf("signer: marshal action: %w", err)
	}
	var actionMap map[string]interface{}
	if err := json.Unmarshal(actionJSON, &actionMap); err != nil {
		return nil, fmt.Errorf("signer: remap action: %w", err)
	}

	req, err := structpb.NewStruct(map[string]interface{}{
		"key_ref": keyRef,
		"action":  actionMap,
	})
	if err != nil {
		return nil, fmt.Errorf("signer: build request struct: %w", err)
	}

	// 2. Защитный таймаут уровня адаптера: выше есть ReliabilityWrapper,
	// но адаптер обязан иметь собственный предел.
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// 3. Вызов signer'а
	resp := &structpb.Struct{}
	if err := s.conn.Invoke(ctx, signerExecuteMethod, req, resp); err != nil {
		return nil, classifyGRPCError(err)
	}

	fields := resp.AsMap()

	// 4. Проверяем прикладную ошибку внутри ответа
	if errField, ok := fields["error"].(map[string]interface{}); ok && len(errField) > 0 {
		kind, _ := errField["kind"].(string)
		msg, _ := errField["message"].(string)
		if kind == "" {
			kind = "broadcast_failed"
		}
		return nil, &ExecutionError{Kind: kind, Message: msg}
	}

	txHash, _ := fields["tx_hash"].(string)
	if txHash == "" {
		return nil, &ExecutionError{Kind: "broadcast_failed", Message: "signer returned empty tx hash"}
	}

	meta, _ := fields["meta"].(map[string]interface{})
	return &ExecutionResult{TxHash: txHash, Meta: meta}, nil
}

// classifyGRPCError переводит транспортные коды в типизированные ошибки,
// чтобы ReliabilityWrapper правильно выбирал стратегию ретрая.
func classifyGRPCError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return &ExecutionError{Kind: "signer_unavailable", Message: err.Error(), Cause: err}
	}
	switch st.Code() {
	case codes.ResourceExhausted:
		return &ThrottleError{RetryAfter: 2 * time.Second, Cause: err}
	case codes.Unavailable, codes.DeadlineExceeded:
		return &ExecutionError{Kind: "signer_unavailable", Message: st.Message(), Cause: err}
	default:
		return &ExecutionError{Kind: "broadcast_failed", Message: st.Message(), Cause: err}
	}
}
