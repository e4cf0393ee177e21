// Package application contém os casos de uso do motor de governança de envio.
//
// Ele depende apenas do pacote domain e não conhece net/http nem drivers.
// Ex.: Governor.Authorize(ctx, req) devolve uma domain.Decision (allow/deny + código + status),
// Governor.Commit registra as consequências de um envio já entregue pelo provider.
package application
