package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/hitoshi/catfacts/internal/model"
)

// MemoryUserRepo はプロセス内メモリを使用したユーザーリポジトリ。
// 読み取りは並行に、書き込みは1件ずつ直列に実行される。
// プロセス終了時にデータは失われる。
type MemoryUserRepo struct {
	mu          sync.RWMutex
	byID        map[string]*model.User
	byEmail     map[string]string // email -> id
	byFederated map[string]string // federated_id -> id
}

// NewMemoryUserRepo はMemoryUserRepoを生成する。
func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{
		byID:        make(map[string]*model.User),
		byEmail:     make(map[string]string),
		byFederated: make(map[string]string),
	}
}

// Create はユーザーを作成する。同じメールアドレスが存在する場合はエラーを返す。
func (r *MemoryUserRepo) Create(_ context.Context, user *model.User) error {
	user.Email = model.NormalizeEmail(user.Email)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byEmail[user.Email]; exists {
		return model.NewDuplicateEmailError()
	}
	if _, exists := r.byID[user.ID]; exists {
		return fmt.Errorf("user id already exists: %s", user.ID)
	}
	if user.FederatedID != "" {
		if _, exists := r.byFederated[user.FederatedID]; exists {
			return ErrFederatedIDTaken
		}
		r.byFederated[user.FederatedID] = user.ID
	}

	stored := *user
	r.byID[user.ID] = &stored
	r.byEmail[user.Email] = user.ID
	return nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *MemoryUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.copyOf(id), nil
}

// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
func (r *MemoryUserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.copyOf(r.byEmail[model.NormalizeEmail(email)]), nil
}

// FindByFederatedID は外部IdPのsubject IDでユーザーを取得する。見つからない場合はnilを返す。
func (r *MemoryUserRepo) FindByFederatedID(_ context.Context, federatedID string) (*model.User, error) {
	if federatedID == "" {
		return nil, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.copyOf(r.byFederated[federatedID]), nil
}

// AttachFederatedID は既存ユーザーに外部IdPのsubject IDを紐付ける。
func (r *MemoryUserRepo) AttachFederatedID(_ context.Context, userID, federatedID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.byID[userID]
	if !ok {
		return fmt.Errorf("user not found: %s", userID)
	}
	if user.FederatedID == federatedID {
		return nil
	}
	if user.FederatedID != "" {
		return fmt.Errorf("user already linked to another federated identity: %s", userID)
	}
	if owner, exists := r.byFederated[federatedID]; exists && owner != userID {
		return fmt.Errorf("federated id already linked: %s", federatedID)
	}

	user.FederatedID = federatedID
	r.byFederated[federatedID] = userID
	return nil
}

// copyOf は呼び出し側の変更がストアに影響しないようコピーを返す。
// 呼び出し側でロックを保持していること。
func (r *MemoryUserRepo) copyOf(id string) *model.User {
	user, ok := r.byID[id]
	if !ok {
		return nil
	}
	c := *user
	return &c
}

// compile-time interface check
var _ UserRepository = (*MemoryUserRepo)(nil)
