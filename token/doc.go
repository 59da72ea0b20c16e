// Package token tracks pending engine operations.
//
// A completion token is created before an outbound call and its id is handed
// to the engine. When the engine calls back with that id the token is taken
// out of the store and its sink is completed, exactly once. Ids are
// generation tagged, so an id that arrives after its token was resolved or
// released is a no-op even if the slot has been reused.
//
//	f := token.NewFuture[native.ResultsHandle](store)
//	if err := eng.SubscribeForObjects(ctx, realm, class, query, f.ID()); err != nil {
//		store.Release(f.ID())
//		return err
//	}
//	results, err := f.Wait(ctx)
//
// Progress listeners are multi-shot: Notify looks the listener up without
// removing it, and the listener stays registered until Release.
package token
