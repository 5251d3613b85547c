package repository

import (
	"errors"
	"testing"

	"github.com/hitoshi/catfacts/internal/model"
	"github.com/lib/pq"
)

// PostgresUserRepoはUserRepositoryインターフェースを満たすことを検証
func TestPostgresUserRepo_ImplementsInterface(t *testing.T) {
	var _ UserRepository = (*PostgresUserRepo)(nil)
}

// PostgresSessionRepoはSessionRepositoryインターフェースを満たすことを検証
func TestPostgresSessionRepo_ImplementsInterface(t *testing.T) {
	var _ SessionRepository = (*PostgresSessionRepo)(nil)
}

func TestNewPostgresRepos_Initialize(t *testing.T) {
	if NewPostgresUserRepo(nil) == nil {
		t.Fatal("expected non-nil user repo")
	}
	if NewPostgresSessionRepo(nil) == nil {
		t.Fatal("expected non-nil session repo")
	}
}

// 空文字はNULLとして保存されること（パスワードなしのGoogleユーザー等）
func TestNullString(t *testing.T) {
	if ns := nullString(""); ns.Valid {
		t.Errorf("nullString(\"\") should be NULL, got %+v", ns)
	}
	ns := nullString("value")
	if !ns.Valid || ns.String != "value" {
		t.Errorf("nullString(\"value\") = %+v, want valid value", ns)
	}
}

func TestInsertUserError_MapsUniqueConstraints(t *testing.T) {
	emailErr := insertUserError(&pq.Error{Code: pqUniqueViolation, Constraint: usersEmailIndex})
	if !model.HasCode(emailErr, model.ErrCodeDuplicateEmail) {
		t.Errorf("email violation = %v, want DUPLICATE_EMAIL", emailErr)
	}

	subjectErr := insertUserError(&pq.Error{Code: pqUniqueViolation, Constraint: usersFederatedIDIndex})
	if !errors.Is(subjectErr, ErrFederatedIDTaken) {
		t.Errorf("federated id violation = %v, want ErrFederatedIDTaken", subjectErr)
	}

	other := insertUserError(&pq.Error{Code: "23502", Column: "username"})
	if model.HasCode(other, model.ErrCodeDuplicateEmail) || errors.Is(other, ErrFederatedIDTaken) {
		t.Errorf("unrelated error mapped to a unique violation: %v", other)
	}
}
