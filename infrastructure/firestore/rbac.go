package firestore

import (
	"context"
	"fmt"
	"sync"

	gfirestore "cloud.google.com/go/firestore"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/calmecac/wabridge/domains/access"
)

// memberDoc vive en accounts/{aid}/members/{uid}.
type memberDoc struct {
	Role string `firestore:"role"`
}

// aclDoc vive en accounts/{aid}/acl/{uid}.
type aclDoc struct {
	Sessions []string `firestore:"sessions"`
}

// AccessStore resuelve y observa los permisos por cuenta combinando el rol
// de membresía con el ACL de sesiones. Documentos ausentes significan un
// usuario sin ese privilegio, no un error.
type AccessStore struct {
	client *gfirestore.Client
}

var _ access.Resolver = (*AccessStore)(nil)

func NewAccessStore(client *gfirestore.Client) *AccessStore {
	return &AccessStore{client: client}
}

func (s *AccessStore) memberRef(accountID, uid string) *gfirestore.DocumentRef {
	return s.client.Collection("accounts").Doc(accountID).Collection("members").Doc(uid)
}

func (s *AccessStore) aclRef(accountID, uid string) *gfirestore.DocumentRef {
	return s.client.Collection("accounts").Doc(accountID).Collection("acl").Doc(uid)
}

// composeView arma la vista a partir del rol de membresía y las sesiones
// del ACL. Sin rol de administrador, tener sesiones en el ACL basta para
// ser operador.
func composeView(role string, sessions []string) access.View {
	view := access.View{Labels: sessions}
	switch {
	case access.Role(role) == access.RoleAdministrator:
		view.Role = access.RoleAdministrator
	case role != "" || len(sessions) > 0:
		view.Role = access.RoleOperator
	}
	return view
}

func roleFromDoc(doc *gfirestore.DocumentSnapshot) string {
	if doc == nil || !doc.Exists() {
		return ""
	}
	var md memberDoc
	if err := doc.DataTo(&md); err != nil {
		logrus.WithError(err).Warnf("[ACCESS] Malformed member doc %s", doc.Ref.ID)
		return ""
	}
	return md.Role
}

func sessionsFromDoc(doc *gfirestore.DocumentSnapshot) []string {
	if doc == nil || !doc.Exists() {
		return nil
	}
	var ad aclDoc
	if err := doc.DataTo(&ad); err != nil {
		logrus.WithError(err).Warnf("[ACCESS] Malformed acl doc %s", doc.Ref.ID)
		return nil
	}
	return ad.Sessions
}

func (s *AccessStore) Resolve(ctx context.Context, accountID, uid string) (access.View, error) {
	docs, err := s.client.GetAll(ctx, []*gfirestore.DocumentRef{
		s.memberRef(accountID, uid),
		s.aclRef(accountID, uid),
	})
	if err != nil {
		return access.View{}, fmt.Errorf("access: resolving %s in %s: %w", uid, accountID, err)
	}
	return composeView(roleFromDoc(docs[0]), sessionsFromDoc(docs[1])), nil
}

// aclWatchState junta los dos carriles del watch. Solo emite cuando ambos
// snapshots iniciales llegaron, para no mostrar una vista vacía transitoria
// que cerraría conexiones por 4403 sin motivo.
type aclWatchState struct {
	mu       sync.Mutex
	role     string
	sessions []string
	roleSeen bool
	aclSeen  bool
}

func (st *aclWatchState) setRole(role string) {
	st.mu.Lock()
	st.role = role
	st.roleSeen = true
	st.mu.Unlock()
}

func (st *aclWatchState) setSessions(sessions []string) {
	st.mu.Lock()
	st.sessions = sessions
	st.aclSeen = true
	st.mu.Unlock()
}

func (st *aclWatchState) view() (access.View, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.roleSeen || !st.aclSeen {
		return access.View{}, false
	}
	return composeView(st.role, st.sessions), true
}

// Watch emite la vista vigente y cada cambio posterior, siguiendo a la vez
// el documento de membresía y el de ACL. El canal se cierra cuando se
// cancela o ambos streams se rompen; el caller decide si recrear.
func (s *AccessStore) Watch(ctx context.Context, accountID, uid string) (<-chan access.View, func(), error) {
	watchCtx, cancel := context.WithCancel(ctx)
	out := make(chan access.View, 8)
	st := &aclWatchState{}

	emit := func() {
		view, ready := st.view()
		if !ready {
			return
		}
		select {
		case out <- view:
		case <-watchCtx.Done():
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.followDoc(watchCtx, s.memberRef(accountID, uid), func(doc *gfirestore.DocumentSnapshot) {
			st.setRole(roleFromDoc(doc))
			emit()
		})
	}()
	go func() {
		defer wg.Done()
		s.followDoc(watchCtx, s.aclRef(accountID, uid), func(doc *gfirestore.DocumentSnapshot) {
			st.setSessions(sessionsFromDoc(doc))
			emit()
		})
	}()
	go func() {
		wg.Wait()
		close(out)
	}()

	return out, cancel, nil
}

func (s *AccessStore) followDoc(ctx context.Context, ref *gfirestore.DocumentRef, apply func(*gfirestore.DocumentSnapshot)) {
	iter := ref.Snapshots(ctx)
	defer iter.Stop()
	for {
		doc, err := iter.Next()
		if err != nil {
			if status.Code(err) == codes.Canceled || ctx.Err() != nil {
				return
			}
			logrus.WithError(err).Warnf("[ACCESS] Watch broke for %s", ref.Path)
			return
		}
		apply(doc)
	}
}

// GrantLabel agrega una sesión al ACL del usuario. El rol vive en el
// documento de membresía y no se toca aquí.
func (s *AccessStore) GrantLabel(ctx context.Context, accountID, uid, label string) error {
	_, err := s.aclRef(accountID, uid).Set(ctx, map[string]interface{}{
		"sessions": gfirestore.ArrayUnion(label),
	}, gfirestore.MergeAll)
	if err != nil {
		return fmt.Errorf("access: granting %s to %s in %s: %w", label, uid, accountID, err)
	}
	return nil
}

// RevokeLabel retira una sesión del ACL del usuario.
func (s *AccessStore) RevokeLabel(ctx context.Context, accountID, uid, label string) error {
	_, err := s.aclRef(accountID, uid).Update(ctx, []gfirestore.Update{
		{Path: "sessions", Value: gfirestore.ArrayRemove(label)},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil
		}
		return fmt.Errorf("access: revoking %s from %s in %s: %w", label, uid, accountID, err)
	}
	return nil
}

// ListUsers junta membresía y ACL de la cuenta en una vista por uid.
func (s *AccessStore) ListUsers(ctx context.Context, accountID string) (map[string]access.View, error) {
	account := s.client.Collection("accounts").Doc(accountID)

	memberDocs, err := account.Collection("members").Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("access: listing members of %s: %w", accountID, err)
	}
	aclDocs, err := account.Collection("acl").Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("access: listing acl of %s: %w", accountID, err)
	}

	roles := make(map[string]string, len(memberDocs))
	for _, doc := range memberDocs {
		roles[doc.Ref.ID] = roleFromDoc(doc)
	}
	sessions := make(map[string][]string, len(aclDocs))
	for _, doc := range aclDocs {
		sessions[doc.Ref.ID] = sessionsFromDoc(doc)
	}

	out := make(map[string]access.View, len(roles)+len(sessions))
	for uid, role := range roles {
		out[uid] = composeView(role, sessions[uid])
	}
	for uid, acl := range sessions {
		if _, ok := out[uid]; !ok {
			out[uid] = composeView("", acl)
		}
	}
	return out, nil
}
