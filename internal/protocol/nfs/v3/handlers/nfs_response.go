package handlers

// NFSResponseBase is embedded in every NFSv3 response. The status is always
// the first word of the XDR reply body.
//
//	resp := &ReadResponse{NFSResponseBase: NFSResponseBase{Status: types.NFS3OK}}
//	status := resp.GetStatus()
type NFSResponseBase struct {
	// Status is the nfsstat3 for this operation.
	Status uint32
}

// GetStatus returns the NFS status code from the response.
func (r *NFSResponseBase) GetStatus() uint32 {
	return r.Status
}
