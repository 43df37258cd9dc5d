// Package glance provides a client for the OpenStack image service with a
// stable, version-independent view of image metadata.
//
//	package main
//
//	import (
//		"context"
//		"fmt"
//
//		"github.com/imageservice/glance"
//	)
//
//	func main() {
//		svc, err := glance.GetDefaultImageService(&glance.Options{
//			APIServers: []string{"http://glance.example.com:9292"},
//		})
//		if err != nil {
//			panic(err)
//		}
//		images, err := svc.Detail(context.Background(), nil, glance.ListOpts{})
//		if err != nil {
//			panic(err)
//		}
//		for _, img := range images {
//			fmt.Println(img.ID, img.Name)
//		}
//	}
package glance
